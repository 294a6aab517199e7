package main

import (
	"github.com/docker/go-units"
	"github.com/pingcap-incubator/tinyobj/kv/util"
	"github.com/shirou/gopsutil/disk"
	"github.com/spf13/cobra"
)

func init() {
	register(&operation{
		use:   "info",
		short: "Print the store header, counts and disk usage",
		args:  cobra.NoArgs,
		run: func(s *session, args []string) error {
			h, err := s.store.Header()
			if err != nil {
				return err
			}
			objects, names, err := s.store.Counts()
			if err != nil {
				return err
			}
			s.printf("path:           %s\n", s.conf.DBPath)
			s.printf("magic:          %#x\n", h.Magic)
			s.printf("version:        %d.%d\n", h.MajorVersion, h.MinorVersion)
			s.printf("next object id: %d\n", h.NextObjectID)
			s.printf("next txn id:    %d\n", h.NextTxnID)
			s.printf("objects:        %d\n", objects)
			s.printf("names:          %d\n", names)
			if size, err := util.DirSize(s.conf.DBPath); err == nil {
				s.printf("size on disk:   %s\n", units.BytesSize(float64(size)))
			}
			if usage, err := disk.Usage(s.conf.DBPath); err == nil {
				s.printf("disk:           %s free of %s (%.1f%% used)\n",
					units.BytesSize(float64(usage.Free)), units.BytesSize(float64(usage.Total)), usage.UsedPercent)
			}
			return nil
		},
	})
}
