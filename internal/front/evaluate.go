package front

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/blindrisk/fhecredit/internal/model"
)

// Report compares the encrypted path with the clear model on a labelled set.
type Report struct {
	N           int     `json:"n"`
	AUCClear    float64 `json:"auc_clear"`
	AUCFHE      float64 `json:"auc_fhe"`
	AccClear    float64 `json:"acc_clear"`
	AccFHE      float64 `json:"acc_fhe"`
	Agreement   float64 `json:"label_agreement"`
	MaxAbsDiff  float64 `json:"max_abs_diff"`
	MeanAbsDiff float64 `json:"mean_abs_diff"`
	MeanLatency float64 `json:"mean_latency_s"`
	Elapsed     float64 `json:"elapsed_s"`
}

// Evaluate predicts every row through the encrypted path with at most
// concurrency requests in flight. The first failure cancels the rest.
func (f *Front) Evaluate(ctx context.Context, rows []model.Record, y []int, concurrency int) (*Report, error) {
	if len(rows) == 0 || len(rows) != len(y) {
		return nil, errors.Errorf("need matching non-empty rows and labels, got %d and %d", len(rows), len(y))
	}
	if concurrency < 1 {
		concurrency = 1
	}

	clearProba := make([]float64, len(rows))
	for i, r := range rows {
		p, err := f.artifact.ClearProbability(r)
		if err != nil {
			return nil, errors.WithMessagef(err, "row %d", i)
		}
		clearProba[i] = p
	}

	start := time.Now()
	enc := make([]float64, len(rows))
	latency := make([]float64, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range rows {
		i := i
		g.Go(func() error {
			pred, err := f.Predict(gctx, rows[i])
			if err != nil {
				return errors.WithMessagef(err, "row %d", i)
			}
			enc[i] = pred.ProbabilityBad
			latency[i] = pred.Timings.Encrypt + pred.Timings.Server + pred.Timings.Decrypt
			if (i+1)%50 == 0 {
				f.logger.Info("evaluated %d/%d", i+1, len(rows))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{
		N:        len(rows),
		AUCClear: model.ROCAUC(y, clearProba),
		AUCFHE:   model.ROCAUC(y, enc),
		AccClear: model.Accuracy(y, clearProba),
		AccFHE:   model.Accuracy(y, enc),
		Elapsed:  time.Since(start).Seconds(),
	}
	agree := 0
	var sumDiff, sumLat float64
	for i := range rows {
		if Label(clearProba[i]) == Label(enc[i]) {
			agree++
		}
		d := math.Abs(clearProba[i] - enc[i])
		sumDiff += d
		rep.MaxAbsDiff = math.Max(rep.MaxAbsDiff, d)
		sumLat += latency[i]
	}
	rep.Agreement = float64(agree) / float64(len(rows))
	rep.MeanAbsDiff = sumDiff / float64(len(rows))
	rep.MeanLatency = sumLat / float64(len(rows))

	f.logger.Info("evaluated %d rows: auc clear=%.3f fhe=%.3f, agreement=%.3f, max |diff|=%.4f",
		rep.N, rep.AUCClear, rep.AUCFHE, rep.Agreement, rep.MaxAbsDiff)
	return rep, nil
}
