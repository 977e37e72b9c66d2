// Package listing defines the record types shared by the scrape pipeline,
// the cache store, and the output sink.
package listing

import (
	"strings"
)

// Phone is a single phone number extracted from a listing page. Text keeps
// the formatted string exactly as displayed; Masked marks numbers the site
// still hides behind a reveal control (for example "(067) XXX XX 67").
type Phone struct {
	Text   string `json:"text"`
	Masked bool   `json:"masked"`
}

// Result holds everything extracted from one listing page. It is created
// once per successfully processed listing and not mutated afterwards.
type Result struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
	Phones []Phone           `json:"phones"`
}

// Title returns the extracted title field, if any.
func (r Result) Title() string {
	return r.Fields["title"]
}

// HasUsablePhone reports whether at least one phone is present and none of
// them is masked. Cached entries failing this check are re-scraped.
func (r Result) HasUsablePhone() bool {
	if len(r.Phones) == 0 {
		return false
	}
	for _, p := range r.Phones {
		if p.Masked || p.Text == "" {
			return false
		}
	}
	return true
}

// phoneSeparators are the characters sellers use to list several numbers in
// one field.
const phoneSeparators = ",;\n·"

// SplitPhones breaks a raw phone field into individual tagged phones.
func SplitPhones(raw string) []Phone {
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return strings.ContainsRune(phoneSeparators, r)
	})
	phones := make([]Phone, 0, len(parts))
	for _, part := range parts {
		text := strings.TrimSpace(part)
		if text == "" {
			continue
		}
		phones = append(phones, Phone{Text: text, Masked: IsMasked(text)})
	}
	return phones
}

// IsMasked reports whether a phone string still contains the site's masking
// marker in place of real digits.
func IsMasked(text string) bool {
	return strings.ContainsAny(text, "xX")
}

// NormalizePhone reduces a formatted phone to its canonical digit string used
// for deduplication. The international prefix is folded into the local form,
// so "+38 (067) 123-45-67" and "0671234567" compare equal.
func NormalizePhone(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 12 && strings.HasPrefix(digits, "380") {
		digits = digits[2:]
	}
	return digits
}

// NormalizedPhones returns the deduplication keys for every unmasked phone of
// the record, in order, without duplicates.
func (r Result) NormalizedPhones() []string {
	seen := make(map[string]struct{}, len(r.Phones))
	out := make([]string, 0, len(r.Phones))
	for _, p := range r.Phones {
		if p.Masked {
			continue
		}
		digits := NormalizePhone(p.Text)
		if digits == "" {
			continue
		}
		if _, ok := seen[digits]; ok {
			continue
		}
		seen[digits] = struct{}{}
		out = append(out, digits)
	}
	return out
}

// CleanText collapses runs of whitespace into single spaces and trims the
// result, matching how field text is normalized before comparison.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
