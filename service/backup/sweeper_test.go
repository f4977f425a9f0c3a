package backup

import "testing"

type noopDrainer struct{}

func (noopDrainer) DrainConnected() {}

func TestSweeperRegistersJobs(t *testing.T) {
	sweeper := NewSweeper(NewStore(nil), noopDrainer{})
	sweeper.Start()
	defer sweeper.Stop()

	if got := len(sweeper.cron.Entries()); got != 2 {
		t.Fatalf("expected 2 scheduled jobs, got %d", got)
	}
}
