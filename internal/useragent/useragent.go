// Package useragent classifies user-agent strings so that crawler traffic
// can be excluded from visit counting.
package useragent

import (
	"strings"

	"github.com/mssola/useragent"
)

// knownBots maps bot signatures to their names.
var knownBots = map[string]string{
	"googlebot":           "Googlebot",
	"bingbot":             "Bingbot",
	"yandexbot":           "YandexBot",
	"duckduckbot":         "DuckDuckBot",
	"baiduspider":         "Baiduspider",
	"facebookexternalhit": "Facebook",
	"twitterbot":          "Twitterbot",
	"linkedinbot":         "LinkedInBot",
	"slurp":               "Yahoo Slurp",
	"ahrefsbot":           "AhrefsBot",
	"semrushbot":          "SemrushBot",
	"mj12bot":             "MJ12Bot",
	"petalbot":            "PetalBot",
	"applebot":            "Applebot",
	"gptbot":              "GPTBot",
	"claudebot":           "ClaudeBot",
	"bytespider":          "ByteSpider",
	"uptimerobot":         "UptimeRobot",
	"pingdom":             "Pingdom",
	"statuscake":          "StatusCake",
}

// Classification is the result of inspecting a user-agent string.
type Classification struct {
	IsBot   bool
	BotName string
}

// Classify reports whether the user-agent belongs to a bot or crawler.
// An empty user-agent is not treated as a bot; it still represents a page
// load we want to count (the fingerprint layer handles the ambiguity).
func Classify(uaString string) Classification {
	if uaString == "" {
		return Classification{}
	}

	lower := strings.ToLower(uaString)
	for sig, name := range knownBots {
		if strings.Contains(lower, sig) {
			return Classification{IsBot: true, BotName: name}
		}
	}

	ua := useragent.New(uaString)
	if ua.Bot() {
		return Classification{IsBot: true, BotName: "Unknown Bot"}
	}
	for _, generic := range []string{"bot", "crawler", "spider", "crawl", "scraper", "archiver", "preview"} {
		if strings.Contains(lower, generic) {
			return Classification{IsBot: true, BotName: "Unknown Bot"}
		}
	}
	return Classification{}
}
