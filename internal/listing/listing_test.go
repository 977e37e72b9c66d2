package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPhones(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []Phone
	}{
		{name: "empty", raw: "", want: nil},
		{
			name: "single",
			raw:  "(067) 123 45 67",
			want: []Phone{{Text: "(067) 123 45 67"}},
		},
		{
			name: "comma separated",
			raw:  "(067) 123 45 67, (050) 765 43 21",
			want: []Phone{
				{Text: "(067) 123 45 67"},
				{Text: "(050) 765 43 21"},
			},
		},
		{
			name: "middle dot and newline",
			raw:  "(067) 123 45 67 · (050) 765 43 21\n(093) 111 22 33",
			want: []Phone{
				{Text: "(067) 123 45 67"},
				{Text: "(050) 765 43 21"},
				{Text: "(093) 111 22 33"},
			},
		},
		{
			name: "masked number tagged",
			raw:  "(067) XXX XX 67, (050) 765 43 21",
			want: []Phone{
				{Text: "(067) XXX XX 67", Masked: true},
				{Text: "(050) 765 43 21"},
			},
		},
		{
			name: "blank segments dropped",
			raw:  ",, (067) 123 45 67 ;",
			want: []Phone{{Text: "(067) 123 45 67"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SplitPhones(tt.raw))
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
	}{
		{"(067) 123 45 67", "0671234567"},
		{"+38 (067) 123-45-67", "0671234567"},
		{"380671234567", "0671234567"},
		{"0671234567", "0671234567"},
		{"no digits", ""},
		{"+1 212 555 0100", "12125550100"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.text), tt.text)
	}
}

func TestNormalizedPhones(t *testing.T) {
	t.Parallel()

	r := Result{Phones: []Phone{
		{Text: "+38 (067) 123-45-67"},
		{Text: "0671234567"},
		{Text: "(050) XXX XX 21", Masked: true},
		{Text: "(093) 111 22 33"},
	}}
	require.Equal(t, []string{"0671234567", "0931112233"}, r.NormalizedPhones())
}

func TestHasUsablePhone(t *testing.T) {
	t.Parallel()

	assert.False(t, Result{}.HasUsablePhone())
	assert.False(t, Result{Phones: []Phone{{Text: "(067) XXX XX 67", Masked: true}}}.HasUsablePhone())
	assert.False(t, Result{Phones: []Phone{
		{Text: "(067) 123 45 67"},
		{Text: "(050) XXX XX 21", Masked: true},
	}}.HasUsablePhone())
	assert.True(t, Result{Phones: []Phone{{Text: "(067) 123 45 67"}}}.HasUsablePhone())
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Audi A6 2019", CleanText("  Audi\tA6\n 2019 "))
	assert.Equal(t, "", CleanText(" \t\n"))
}
