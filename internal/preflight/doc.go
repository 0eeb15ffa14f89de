// Package preflight validates the host before a shard build starts: free
// disk on the save and temp directories, write access to them, physical
// memory against the construction budget and the open file limit.
//
//	report, err := preflight.New(preflight.WithUlimit(65536)).Run(ctx, preflight.Requirements{
//		SaveDir:  dir,
//		MemBytes: 8 << 30,
//	})
//	if err == nil {
//		err = report.Err()
//	}
package preflight
