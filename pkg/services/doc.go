/*
Package services is the service orchestrator of the gateway's
secret-management core.

A Services value is built once per process and owns every service:

	svcs := services.New(services.Options{Config: cfg})
	if err := svcs.Init(); err != nil {
		return err // fatal: no partial-service mode
	}
	if err := svcs.Start(); err != nil {
		return err
	}
	defer svcs.Stop()

	value, err := svcs.Aliases().GetPassword("prod", "db-password")

The lifecycle is UNINITIALIZED -> INITIALIZED -> STARTED -> STOPPED. Init
wires master, keystore, alias, crypto and token services in that order;
Start runs the services that have a running phase (the event broker, the
master store, the keystore) and Stop reverses it. Service looks a service
up by its well-known name.
*/
package services
