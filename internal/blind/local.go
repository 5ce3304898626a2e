package blind

import (
	"context"
)

// Local runs the evaluator in-process. It has the same shape as the front's HTTP
// client, so the front can skip the network in tests and single-host setups.
type Local struct {
	Evaluator Evaluator
}

func (l *Local) RunFHE(ctx context.Context, encryptedData, evaluationKeys []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.Evaluator.Run(encryptedData, evaluationKeys)
}
