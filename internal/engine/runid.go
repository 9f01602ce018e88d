package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nashquant/backtesthub/internal/indicator"
	"github.com/nashquant/backtesthub/internal/schema"
)

// RunID derives a stable identifier from everything that determines the
// outcome of a run. Identical inputs always map to the same ID.
func RunID(cfg Config, strategyName string, specs []indicator.Spec, series []schema.Series) string {
	var b strings.Builder
	fmt.Fprintf(&b, "strategy=%s;", strategyName)
	for _, spec := range specs {
		fmt.Fprintf(&b, "ind=%s;", spec.Name())
	}
	fmt.Fprintf(&b, "cash=%g;price=%s;slip=%g;comm=%T%+v;",
		cfg.InitialCash, cfg.ExecutionPrice, cfg.SlippageBps, cfg.Commission, cfg.Commission)
	fmt.Fprintf(&b, "risk=%+v;sizing=%s/%g/%g/%g/%g;cal=%s;close=%t;",
		cfg.Risk, cfg.Sizing.Mode, cfg.Sizing.Units, cfg.Sizing.VolTarget, cfg.Sizing.VolAlpha, cfg.Sizing.Lot,
		cfg.Calendar, cfg.CloseAtEnd)
	for _, s := range series {
		fmt.Fprintf(&b, "series=%s/%s/%d", s.Name, s.Kind, len(s.Bars))
		if len(s.Bars) > 0 {
			first, last := s.Bars[0], s.Bars[len(s.Bars)-1]
			fmt.Fprintf(&b, "/%s/%s/%g/%g", first.Time.Format(time.RFC3339Nano), last.Time.Format(time.RFC3339Nano), first.Close, last.Close)
		}
		b.WriteByte(';')
	}
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(b.String())).String()
}
