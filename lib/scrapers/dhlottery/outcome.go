package dhlottery

import "net/http"

// Outcome classifies a transport result at the boundary so nothing
// downstream reads raw status codes.
type Outcome int

const (
	// OutcomeSuccess is a 2xx with the structure the operation expects.
	OutcomeSuccess Outcome = iota
	// OutcomeSoftBlock is a rate-limit or bot-detection rejection; the
	// channel is likely still alive.
	OutcomeSoftBlock
	// OutcomeHardBlock is a transport failure, timeout, or a status
	// that says the channel itself is dead.
	OutcomeHardBlock
	// OutcomeUpstream is any other non-2xx.
	OutcomeUpstream
	// OutcomeMalformed is a 2xx whose body failed the operation's
	// structural check.
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSoftBlock:
		return "soft_block"
	case OutcomeHardBlock:
		return "hard_block"
	case OutcomeUpstream:
		return "upstream_error"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Result is what Perform hands back on success.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Header     http.Header
	// Body is decoded to UTF-8 (the site occasionally serves EUC-KR).
	Body []byte
}

func classifyStatus(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return OutcomeSoftBlock
	default:
		return OutcomeUpstream
	}
}
