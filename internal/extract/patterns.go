package extract

import "regexp"

// Pattern names understood by ExtractPattern.
const (
	PatternEmail          = "email"
	PatternPhone          = "phone"
	PatternURL            = "url"
	PatternPrice          = "price"
	PatternDate           = "date"
	PatternTime           = "time"
	PatternSocialSecurity = "socialSecurity"
	PatternZipCode        = "zipCode"
	PatternCreditCard     = "creditCard"
	PatternHashtag        = "hashtag"
	PatternMention        = "mention"
	PatternIPAddress      = "ipAddress"
)

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

var patterns = []namedPattern{
	{PatternEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)},
	{PatternPhone, regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)},
	{PatternURL, regexp.MustCompile(`https?://(www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_+.~#?&/=]*)`)},
	{PatternPrice, regexp.MustCompile(`\$?[\d,]+\.?\d*`)},
	{PatternDate, regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b\d{4}[/-]\d{1,2}[/-]\d{1,2}\b`)},
	{PatternTime, regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\s*(?:AM|PM|am|pm)?\b`)},
	{PatternSocialSecurity, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{PatternZipCode, regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)},
	{PatternCreditCard, regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)},
	{PatternHashtag, regexp.MustCompile(`#[a-zA-Z0-9_]+`)},
	{PatternMention, regexp.MustCompile(`@[a-zA-Z0-9_]+`)},
	{PatternIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

var (
	skuPattern    = regexp.MustCompile(`\b[A-Z0-9]{2,}-[A-Z0-9]+\b`)
	ratingPattern = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:out\s+of\s+|/\s*)\d+\s*(?:stars?|rating)?\b`)
)

// ExtractPattern returns every match of the named pattern, or nil for an
// unknown name.
func ExtractPattern(text, name string) []string {
	for _, p := range patterns {
		if p.name == name {
			return p.re.FindAllString(text, -1)
		}
	}
	return nil
}

// ExtractPatterns runs every known pattern and keeps the non-empty results.
func ExtractPatterns(text string) map[string][]string {
	out := make(map[string][]string)
	for _, p := range patterns {
		if m := p.re.FindAllString(text, -1); len(m) > 0 {
			out[p.name] = m
		}
	}
	return out
}

// SocialData groups social media markers found in text.
type SocialData struct {
	Hashtags []string `json:"hashtags"`
	Mentions []string `json:"mentions"`
	URLs     []string `json:"urls"`
}

// ExtractSocial finds hashtags, mentions and links.
func ExtractSocial(text string) SocialData {
	return SocialData{
		Hashtags: ExtractPattern(text, PatternHashtag),
		Mentions: ExtractPattern(text, PatternMention),
		URLs:     ExtractPattern(text, PatternURL),
	}
}

// ProductInfo groups commerce markers found in text.
type ProductInfo struct {
	Prices  []string `json:"prices"`
	SKUs    []string `json:"skus"`
	Ratings []string `json:"ratings"`
}

// ExtractProductInfo finds prices, SKUs and ratings.
func ExtractProductInfo(text string) ProductInfo {
	return ProductInfo{
		Prices:  ExtractPattern(text, PatternPrice),
		SKUs:    skuPattern.FindAllString(text, -1),
		Ratings: ratingPattern.FindAllString(text, -1),
	}
}
