// Package notify delivers verification codes to phones.
//
// The [Notifier] interface decouples the engine from the delivery channel.
// [WhatsAppNotifier] ships codes through a Z-API style gateway;
// [LogNotifier] writes them to a logger for development and tests.
//
// # Architecture boundaries
//
// This package owns delivery only. Code generation, storage, and rate
// limiting live with the engine.
//
// # What this package must NOT do
//
//   - Persist codes or phones anywhere.
//   - Retry deliveries on its own. The caller decides retry policy.
//   - Import any other phoneauth package.
package notify
