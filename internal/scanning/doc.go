// Package scanning is the entry point to the farmscan scan engine.
//
// A Service owns a workers.Pool and exposes the operations the HTTP API and
// the CLI need: resolving range specifications into candidate addresses,
// creating and tracking scan tasks, and applying bounded live changes to
// the worker count and probe timeout.
//
// # Usage
//
//	svc := scanning.NewService(cfg.Scanning, probe.NewMoonrakerProber(7125, "Snapmaker"))
//	if err := svc.Start(); err != nil {
//		return err
//	}
//	defer svc.Shutdown(context.Background())
//
//	id, err := svc.CreateScan([]netrange.Spec{{CIDR: "192.168.1.0/24"}})
//	if err != nil {
//		return err
//	}
//	snap, err := svc.Wait(ctx, id, time.Second, nil)
//
// Completed tasks are kept until the retention sweep removes them. The
// sweep runs on a cron schedule (RetentionSchedule) and drops tasks that
// completed more than Retention ago.
package scanning
