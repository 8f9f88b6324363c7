package storage

import (
	"reflect"
	"strings"
	"testing"

	"github.com/pricepulse/pricepulse-bot/internal/models"
)

// The unanalyzed-items query filters on analysisClaimedAt equal to the zero
// timestamp, which only works if the field is written on every insert. An
// omitempty option would leave the field absent on new documents, the equality
// filter would match nothing, and freshly ingested items would be invisible to
// the analysis cycle forever.
func TestCandidateItemClaimFieldAlwaysWritten(t *testing.T) {
	field, ok := reflect.TypeOf(models.CandidateItem{}).FieldByName("AnalysisClaimedAt")
	if !ok {
		t.Fatal("CandidateItem has no AnalysisClaimedAt field")
	}
	tag := field.Tag.Get("firestore")
	if strings.Contains(tag, "omitempty") {
		t.Error("analysisClaimedAt must be written on insert so the unanalyzed query matches new items")
	}
	if tag != "analysisClaimedAt" {
		t.Errorf("firestore tag = %q, want %q", tag, "analysisClaimedAt")
	}
}
