package ingest

import (
	"fmt"
	"strings"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// validateRecord checks the fields a proposal cannot exist without. The
// geolocation gate is separate; records failing it are skipped with their
// own reason so operators can tell data gaps from geocoder gaps.
func validateRecord(rec pipeline.Record) error {
	var missing []string
	if strings.TrimSpace(rec.CaseNumber) == "" {
		missing = append(missing, "case_number")
	}
	if strings.TrimSpace(rec.Street) == "" {
		missing = append(missing, "street")
	}
	if rec.Updated.IsZero() {
		missing = append(missing, "updated")
	}
	if len(missing) > 0 {
		return fmt.Errorf("record missing %s", strings.Join(missing, ", "))
	}
	return nil
}
