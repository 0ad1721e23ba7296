// Package builtin holds the plugins bundled with Polaris. Importing the
// package registers them with plugins.Register:
//
//   - ping: liveness check
//   - echo: repeats its input, also as an inline answer
//   - help: lists the commands of the active plugins
//   - reminders: delayed messages delivered by the cron hook
//   - pins: #tag shortcuts to saved messages
package builtin
