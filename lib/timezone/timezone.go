package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Seoul")
	if err != nil {
		panic(err)
	}
}

// The lottery operator publishes draw schedules, purchase deadlines and
// ledger dates in KST, so date arithmetic has to happen there no matter
// where this process runs.
func Now() time.Time {
	return time.Now().In(Location)
}

// Today returns the current date in KST formatted the way the ledger
// endpoints expect it (YYYYMMDD).
func Today() string {
	return Now().Format("20060102")
}
