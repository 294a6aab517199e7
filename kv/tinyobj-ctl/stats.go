package main

import (
	"github.com/docker/go-units"
	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/tinyobj/kv/transaction"
	"github.com/spf13/cobra"
)

// sizeStats summarizes object sizes in bytes.
type sizeStats struct {
	Count  int
	Total  float64
	Mean   float64
	Median float64
	P99    float64
	Max    float64
}

func summarize(sizes stats.Float64Data) (*sizeStats, error) {
	res := &sizeStats{Count: sizes.Len()}
	if res.Count == 0 {
		return res, nil
	}
	var err error
	if res.Total, err = sizes.Sum(); err != nil {
		return nil, err
	}
	if res.Mean, err = sizes.Mean(); err != nil {
		return nil, err
	}
	if res.Median, err = sizes.Median(); err != nil {
		return nil, err
	}
	if res.P99, err = sizes.Percentile(99); err != nil {
		return nil, err
	}
	if res.Max, err = sizes.Max(); err != nil {
		return nil, err
	}
	return res, nil
}

func init() {
	register(&operation{
		use:   "stats",
		short: "Print object size statistics",
		args:  cobra.NoArgs,
		run: func(s *session, args []string) error {
			var sizes stats.Float64Data
			err := s.run(func(txn *transaction.Txn) error {
				return forEachObject(s, txn, func(id int64, data []byte) {
					sizes = append(sizes, float64(len(data)))
				})
			})
			if err != nil {
				return err
			}
			res, err := summarize(sizes)
			if err != nil {
				return err
			}
			s.printf("objects: %d\n", res.Count)
			if res.Count == 0 {
				return nil
			}
			s.printf("total:   %s\n", units.BytesSize(res.Total))
			s.printf("mean:    %s\n", units.BytesSize(res.Mean))
			s.printf("median:  %s\n", units.BytesSize(res.Median))
			s.printf("p99:     %s\n", units.BytesSize(res.P99))
			s.printf("max:     %s\n", units.BytesSize(res.Max))
			return nil
		},
	})
}
