package pacer

// Identity is the browser persona presented to the lottery site: a
// user-agent plus the client-hint headers a real browser with that
// user-agent would send. The two have to match; a Chrome UA without
// Sec-CH-UA headers is itself a fingerprint.
type Identity struct {
	UserAgent string
	Headers   map[string]string
}

func chrome(version, platform, platformHint string, mobile bool) Identity {
	mobileHint := "?0"
	if mobile {
		mobileHint = "?1"
	}
	return Identity{
		UserAgent: "Mozilla/5.0 (" + platform + ") AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + version + ".0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Sec-CH-UA":          `"Chromium";v="` + version + `", "Google Chrome";v="` + version + `", "Not-A.Brand";v="99"`,
			"Sec-CH-UA-Mobile":   mobileHint,
			"Sec-CH-UA-Platform": `"` + platformHint + `"`,
			"Accept-Language":    "ko,en-US;q=0.9,en;q=0.8,ko-KR;q=0.7",
		},
	}
}

func edge(version, platform, platformHint string) Identity {
	return Identity{
		UserAgent: "Mozilla/5.0 (" + platform + ") AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + version + ".0.0.0 Safari/537.36 Edg/" + version + ".0.0.0",
		Headers: map[string]string{
			"Sec-CH-UA":          `"Chromium";v="` + version + `", "Microsoft Edge";v="` + version + `", "Not-A.Brand";v="99"`,
			"Sec-CH-UA-Mobile":   "?0",
			"Sec-CH-UA-Platform": `"` + platformHint + `"`,
			"Accept-Language":    "ko,en-US;q=0.9,en;q=0.8",
		},
	}
}

// firefox and safari don't send client hints at all
func firefox(version, platform string) Identity {
	return Identity{
		UserAgent: "Mozilla/5.0 (" + platform + "; rv:" + version + ".0) Gecko/20100101 Firefox/" + version + ".0",
		Headers: map[string]string{
			"Accept-Language": "ko-KR,ko;q=0.8,en-US;q=0.5,en;q=0.3",
		},
	}
}

func safari(version string) Identity {
	return Identity{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/" + version + " Safari/605.1.15",
		Headers: map[string]string{
			"Accept-Language": "ko-KR,ko;q=0.9",
		},
	}
}

const (
	win   = "Windows NT 10.0; Win64; x64"
	mac   = "Macintosh; Intel Mac OS X 10_15_7"
	linux = "X11; Linux x86_64"
)

// DefaultIdentities returns the built-in persona pool. Versions track
// the browsers the site's real traffic is dominated by; stale versions
// get flagged, so this list needs the occasional refresh.
func DefaultIdentities() []Identity {
	return []Identity{
		chrome("131", win, "Windows", false),
		chrome("130", win, "Windows", false),
		chrome("129", win, "Windows", false),
		chrome("128", win, "Windows", false),
		chrome("127", win, "Windows", false),
		chrome("131", mac, "macOS", false),
		chrome("130", mac, "macOS", false),
		chrome("129", mac, "macOS", false),
		chrome("128", mac, "macOS", false),
		chrome("131", linux, "Linux", false),
		chrome("130", linux, "Linux", false),
		edge("131", win, "Windows"),
		edge("130", win, "Windows"),
		edge("129", win, "Windows"),
		edge("131", mac, "macOS"),
		firefox("133", win),
		firefox("132", win),
		firefox("131", win),
		firefox("133", mac),
		firefox("132", mac),
		firefox("133", linux),
		safari("18.2"),
		safari("18.1"),
		safari("17.6"),
	}
}
