package review

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/extract"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const filledStar = `<img class="star" src="//img.example.com/TB19ZvEgfDH8KJjy1XcXXcpdXXa.png">`
const emptyStar = `<img class="star" src="//img.example.com/TB1empty.png">`

const reviewsHTML = `<html><body>
<h1 class="pdp-mod-product-badge-title">Electric Kettle 1.8L</h1>
<span class="pdp-price pdp-price_type_normal">Rs. 1,299</span>
<span class="score-average">4.6</span>
<a class="pdp-review-summary__link">128 Ratings</a>
<div class="mod-reviews">
  <div class="item">
    <div class="top">
      <div class="container-star">` + filledStar + filledStar + filledStar + filledStar + emptyStar + `</div>
      <span class="title right">12 Jan 2024</span>
    </div>
    <div class="middle"><span>by Sita</span><span class="verify">Verified Purchase</span></div>
    <div class="item-content">
      <div class="content">Boils fast.</div>
      <div class="review-image">
        <div class="image" style="background-image: url(&quot;//static.example.com/a.jpg&quot;);"></div>
        <div class="image" style="width: 80px"></div>
        <div class="image" style="background-image:url('https://static.example.com/a.jpg')"></div>
        <div class="image" style="background-image:url('https://static.example.com/b.jpg')"></div>
      </div>
    </div>
    <div class="bottom"><span class="left-content">1,204</span></div>
  </div>
  <div class="item">
    <div class="top">
      <div class="container-star">` + filledStar + filledStar + filledStar + `</div>
    </div>
    <div class="middle"><span>by Ram</span></div>
    <div class="item-content"><div class="content">Lid is loose.</div></div>
  </div>
  <div class="item">
    <div class="top">
      <div class="container-star">` + emptyStar + emptyStar + `</div>
      <span class="title right">2 Feb 2024</span>
    </div>
    <div class="item-content"><div class="content">   </div></div>
    <div class="item-content--seller-reply">
      <div class="content">Sorry, we will replace it.</div>
      <span class="title right">विक्रेता प्रतिक्रिया - 3 Feb 2024</span>
      <span class="left-content">4</span>
    </div>
  </div>
</div>
</body></html>`

type fakeRecorder struct {
	mu    sync.Mutex
	steps []string
	extra []map[string]any
}

func (f *fakeRecorder) Record(step, _ string, extra map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, step)
	f.extra = append(f.extra, extra)
}

func (f *fakeRecorder) count(step string) int {
	n := 0
	for _, s := range f.steps {
		if s == step {
			n++
		}
	}
	return n
}

func reviewNodes(t *testing.T, body string) (extract.Node, []extract.Node) {
	t.Helper()
	root, err := extract.NewDocument(strings.NewReader(body))
	require.NoError(t, err)
	sel := config.DefaultSelectors()
	pe := NewProductExtractor(sel.Product, extract.NewResolver(testLogger, nil), testLogger)
	return root, pe.ReviewNodes(root)
}

func TestBuildFullReview(t *testing.T) {
	_, nodes := reviewNodes(t, reviewsHTML)
	require.Len(t, nodes, 3)

	b := NewBuilder(config.DefaultSelectors().Review, extract.NewResolver(testLogger, nil), nil, testLogger)
	got := b.Build(nodes[0], "s456", 1)

	want := types.ReviewRecord{
		ID:       "s456_review_1",
		Text:     "Boils fast.",
		Rating:   4,
		Date:     "12 Jan 2024",
		Reviewer: "Sita",
		Verified: true,
		Likes:    1204,
		Images: []string{
			"https://static.example.com/a.jpg",
			"https://static.example.com/b.jpg",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildDefaultsMissingFields(t *testing.T) {
	_, nodes := reviewNodes(t, reviewsHTML)
	require.Len(t, nodes, 3)

	rec := &fakeRecorder{}
	b := NewBuilder(config.DefaultSelectors().Review, extract.NewResolver(testLogger, nil), rec, testLogger)

	records := make([]types.ReviewRecord, len(nodes))
	for i, n := range nodes {
		records[i] = b.Build(n, "s456", i+1)
	}

	second := records[1]
	assert.Equal(t, "s456_review_2", second.ID)
	assert.Equal(t, DefaultDate, second.Date)
	assert.Equal(t, "Lid is loose.", second.Text)
	assert.Equal(t, 3, second.Rating)
	assert.Equal(t, "Ram", second.Reviewer)
	assert.False(t, second.Verified)
	assert.Equal(t, DefaultLikes, second.Likes)
	assert.NotNil(t, second.Images)
	assert.Empty(t, second.Images)
	assert.Nil(t, second.SellerResponse)

	require.Equal(t, 3, rec.count(EventReviewBuilt))
	assert.Contains(t, rec.extra[1]["defaulted"], "review_date")
	assert.Contains(t, rec.extra[1]["defaulted"], "likes")
}

func TestBuildSellerResponseAndStarFallback(t *testing.T) {
	_, nodes := reviewNodes(t, reviewsHTML)
	require.Len(t, nodes, 3)

	b := NewBuilder(config.DefaultSelectors().Review, extract.NewResolver(testLogger, nil), nil, testLogger)
	got := b.Build(nodes[2], "s456", 3)

	assert.Equal(t, DefaultText, got.Text, "whitespace-only text is treated as missing")
	assert.Equal(t, DefaultReviewer, got.Reviewer)
	// No filled stars; the fallback strategy counts every star icon.
	assert.Equal(t, 2, got.Rating)

	require.NotNil(t, got.SellerResponse)
	assert.Equal(t, types.SellerResponse{
		Text:  "Sorry, we will replace it.",
		Date:  "3 Feb 2024",
		Likes: 4,
	}, *got.SellerResponse)
}

func TestBuildKeepsLineBreaksInText(t *testing.T) {
	root, err := extract.NewDocument(strings.NewReader(`<div class="item">
  <div class="item-content"><div class="content">
    line one
line two
  </div></div>
</div>`))
	require.NoError(t, err)

	b := NewBuilder(config.DefaultSelectors().Review, extract.NewResolver(testLogger, nil), nil, testLogger)
	got := b.Build(root, "p1", 1)

	assert.Equal(t, "line one\nline two", got.Text)
}

func TestBuildIsTotalOnEmptyNode(t *testing.T) {
	root, err := extract.NewDocument(strings.NewReader(`<div class="item"></div>`))
	require.NoError(t, err)

	b := NewBuilder(config.DefaultSelectors().Review, extract.NewResolver(testLogger, nil), nil, testLogger)
	got := b.Build(root, "p1", 9)

	want := types.ReviewRecord{
		ID:       "p1_review_9",
		Text:     DefaultText,
		Rating:   DefaultRating,
		Date:     DefaultDate,
		Reviewer: DefaultReviewer,
		Images:   []string{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build() on empty node mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	_, nodes := reviewNodes(t, reviewsHTML)
	b := NewBuilder(config.DefaultSelectors().Review, extract.NewResolver(testLogger, nil), nil, testLogger)

	for i, n := range nodes {
		first := b.Build(n, "s456", i+1)
		second := b.Build(n, "s456", i+1)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("node %d: repeated Build differs (-first +second):\n%s", i, diff)
		}
	}
}

func TestBuildClampsRating(t *testing.T) {
	stars := strings.Repeat(filledStar, 7)
	root, err := extract.NewDocument(strings.NewReader(`<div class="item"><div class="container-star">` + stars + `</div></div>`))
	require.NoError(t, err)

	b := NewBuilder(config.DefaultSelectors().Review, extract.NewResolver(testLogger, nil), nil, testLogger)
	assert.Equal(t, MaxStars, b.Build(root, "p1", 1).Rating)
}

func TestProductExtract(t *testing.T) {
	root, _ := reviewNodes(t, reviewsHTML)
	pe := NewProductExtractor(config.DefaultSelectors().Product, extract.NewResolver(testLogger, nil), testLogger)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("NPT", 20700))
	got := pe.Extract(root, "https://www.daraz.com.np/products/electric-kettle-i123-s456.html?spm=a2a0e", now)

	assert.Equal(t, types.ProductRecord{
		ID:          "s456",
		Name:        "Electric Kettle 1.8L",
		Price:       "Rs. 1,299",
		Rating:      4.6,
		URL:         "https://www.daraz.com.np/products/electric-kettle-i123-s456.html?spm=a2a0e",
		ReviewCount: 128,
		ScrapedAt:   now.UTC(),
	}, got)
}

func TestProductExtractDefaults(t *testing.T) {
	root, err := extract.NewDocument(strings.NewReader(`<html><body><p>gone</p></body></html>`))
	require.NoError(t, err)
	pe := NewProductExtractor(config.DefaultSelectors().Product, extract.NewResolver(testLogger, nil), testLogger)

	got := pe.Extract(root, "https://shop.example.com/p/widget-s9.html", time.Now())
	assert.Empty(t, got.Name)
	assert.Equal(t, DefaultPrice, got.Price)
	assert.Zero(t, got.Rating)
	assert.Zero(t, got.ReviewCount)
	assert.Empty(t, pe.ReviewNodes(root))
}

func TestProductID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.daraz.com.np/products/kettle-i123-s456.html", "s456"},
		{"https://www.daraz.com.np/products/kettle-i123-s456.html?spm=a.b.c", "s456"},
		{"https://shop.example.com/item/98765", "98765"},
		{"https://shop.example.com/item/98765/", "98765"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ProductID(tt.url))
		})
	}

	fallback := ProductID("https://shop.example.com/")
	assert.True(t, strings.HasPrefix(fallback, "p"))
	assert.Len(t, fallback, 13)
	assert.Equal(t, fallback, ProductID("https://shop.example.com/"))
}
