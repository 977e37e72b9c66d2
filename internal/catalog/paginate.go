package catalog

import (
	"net/url"
	"strconv"
	"strings"
)

// pageParam is the query parameter that drives pagination; pagination
// advances by rewriting it rather than clicking "next" controls.
const pageParam = "page"

// limitParam requests a specific number of listings per catalog page.
const limitParam = "limit"

// CanonicalURL normalizes a page URL for cycle detection: the fragment is
// dropped and the query string is re-encoded in sorted order.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		before, _, _ := strings.Cut(raw, "#")
		return before
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String()
}

// currentPageIndex reads the zero-based page index from a catalog URL. A
// missing parameter means the first page; an unparsable one yields -1 so the
// next increment lands back on page zero.
func currentPageIndex(u *url.URL) int {
	value := u.Query().Get(pageParam)
	if value == "" {
		return 0
	}
	idx, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return idx
}

// NextPageURL rewrites the page parameter to the following index, carrying
// the desired page size along when one is configured.
func NextPageURL(raw string, pageSize int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(pageParam, strconv.Itoa(currentPageIndex(u)+1))
	if pageSize > 0 {
		q.Set(limitParam, strconv.Itoa(pageSize))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ApplyPageSize sets the listings-per-page parameter on a catalog URL.
func ApplyPageSize(raw string, pageSize int) string {
	if pageSize <= 0 {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(limitParam, strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// IsLastPage reports whether the URL's explicit total-page-count parameter
// says the current page is the final one. Sites that omit the parameter
// terminate through the no-new-content checks instead.
func IsLastPage(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	q := u.Query()
	total := q.Get("pages_count")
	if total == "" {
		total = q.Get("pagesCount")
	}
	if total == "" {
		return false
	}
	pages, err := strconv.Atoi(total)
	if err != nil {
		return false
	}
	return currentPageIndex(u) >= pages-1
}

// Partition distributes URLs round-robin over n buckets. Assignment is
// deterministic: URL i goes to bucket i%n.
func Partition(urls []string, n int) [][]string {
	if n <= 0 {
		return nil
	}
	buckets := make([][]string, n)
	for i, u := range urls {
		buckets[i%n] = append(buckets[i%n], u)
	}
	return buckets
}
