package filter

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

// defaultKeywords is the promotional vocabulary matched against message
// text. Mostly Brazilian retail terms, since that is where the monitored
// channels live.
var defaultKeywords = []string{
	"r$",
	"promo",
	"desconto",
	"cupom",
	"oferta",
	"%",
	" off",
	"barato",
	"preço",
	"imperdível",
	"saldão",
	"liquida",
	"frete grátis",
	"grátis",
	"compre",
	"ganhe",
	"economize",
	"leve",
	"pague",
	"cashback",
	"metade do preço",
}

var (
	percentExpr   = regexp.MustCompile(`\d+([,\.]\d{2})?\s*%`)
	priceExpr     = regexp.MustCompile(`(?i)r\$\s*\d+([,\.]\d{2})?`)
	fromToExpr    = regexp.MustCompile(`(?i)de\s+r\$\s*[\d,.]+\s+por\s+r\$\s*[\d,.]+`)
	urlExpr       = regexp.MustCompile(`http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*(),]|(?:%[0-9a-fA-F]{2}))+`)
	urlTrailChars = ".,!?)]"
)

// Filter decides whether a message is worth sending to extraction.
// Classification is a pure function of the text and the loaded keyword
// set; nothing is cached between calls.
type Filter struct {
	mu       sync.RWMutex
	keywords []string
}

// New builds a filter from the given keywords, falling back to the
// built-in vocabulary when none are provided.
func New(keywords []string) *Filter {
	f := &Filter{}
	f.setKeywords(keywords)
	return f
}

func (f *Filter) setKeywords(keywords []string) {
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	f.mu.Lock()
	f.keywords = lowered
	f.mu.Unlock()
}

// IsCandidate reports whether text looks promotional: any keyword hit, or
// a price/percentage pattern.
func (f *Filter) IsCandidate(text string) bool {
	if text == "" {
		return false
	}

	lower := strings.ToLower(text)

	f.mu.RLock()
	keywords := f.keywords
	f.mu.RUnlock()

	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	return percentExpr.MatchString(lower) ||
		priceExpr.MatchString(lower) ||
		fromToExpr.MatchString(lower)
}

// LoadKeywordsFile replaces the keyword set with the contents of path,
// one keyword per line, '#' starting a comment.
func (f *Filter) LoadKeywordsFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open keywords file: %w", err)
	}
	defer file.Close()

	var keywords []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keywords = append(keywords, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read keywords file: %w", err)
	}
	if len(keywords) == 0 {
		return fmt.Errorf("keywords file %s is empty", path)
	}

	f.setKeywords(keywords)
	return nil
}

// ExtractURLs pulls http(s) links out of message text, stripping trailing
// punctuation. Returns nil when none are found.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}

	matches := urlExpr.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	urls := make([]string, 0, len(matches))
	for _, u := range matches {
		for len(u) > 0 && strings.ContainsRune(urlTrailChars, rune(u[len(u)-1])) {
			u = u[:len(u)-1]
		}
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
