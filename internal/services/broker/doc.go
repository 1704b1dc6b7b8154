// Package broker hosts the SSO broker service: the credential exchange
// engine, its leaf components (redirect whitelist matcher, secret vault,
// token issuer, upstream provider client, privacy projection, audit
// recorder), and the SQLite persistence behind them.
package broker
