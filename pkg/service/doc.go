/*
Package service is the composition root for the caching subsystem.

The embedding server provides the two callables the subsystem cannot build
itself, the task executor and the warming fetcher, and gets back a fully
wired Service:

	svc, err := service.Start(cfg, service.Options{
	    Executor:     toolLayer,
	    WarmExecutor: warmFetcher,
	})
	if err != nil {
	    return err
	}
	defer svc.Stop()

Start opens the encrypted store, reclaims tasks stranded in the running
state, launches the background worker, triggers cache warming for the
configured accounts, and exposes /metrics, /health and /ready on the
configured metrics address. Readiness reports ready once the storage, cache
and worker components are up.
*/
package service
