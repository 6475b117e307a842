/*
Package log provides structured logging for Gatekeeper using zerolog.

A single package-level zerolog.Logger is configured once by Init and shared by
every service. Components derive child loggers that carry a component field,
and cluster-scoped operations add a cluster field:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("keystore")
	logger.Info().Str("path", path).Msg("Created credential store")

	clusterLog := log.WithCluster("alias", "prod")
	clusterLog.Warn().Str("alias", name).Msg("Alias not present, nothing removed")

Secret values, master secrets and passphrases are never passed to a logger.
Alias names, cluster names and file paths are safe to log.

Until Init is called the logger discards everything, so library users that do
not configure logging see no output. The CLI writes logs to stderr and keeps
stdout for command results.
*/
package log
