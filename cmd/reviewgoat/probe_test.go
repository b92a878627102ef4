package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/reviewgoat/internal/config"
)

const savedPage = `<html><body>
<h1 class="pdp-mod-product-badge-title">Electric Kettle 1.8L</h1>
<span class="pdp-price pdp-price_type_normal">Rs. 1,499</span>
<div class="mod-reviews">
  <div class="item">
    <div class="top"><span class="title right">12 Mar 2024</span></div>
    <div class="middle"><span>by Sita</span><span class="verify">Verified Purchase</span></div>
    <div class="item-content"><div class="content">Boils fast</div></div>
  </div>
  <div class="item">
    <div class="item-content"><div class="content">Too loud</div></div>
  </div>
</div>
</body></html>`

func TestProbePage(t *testing.T) {
	cfg := config.DefaultConfig()

	row, stats, err := probePage(cfg, strings.NewReader(savedPage),
		"https://www.daraz.com.np/products/electric-kettle-i123-s456.html", quietLogger())
	require.NoError(t, err)

	assert.Equal(t, "s456", row.Product.ID)
	assert.Equal(t, "Electric Kettle 1.8L", row.Product.Name)
	require.Len(t, row.Reviews, 2)
	assert.Equal(t, "s456_review_1", row.Reviews[0].ID)
	assert.Equal(t, "Sita", row.Reviews[0].Reviewer)
	assert.True(t, row.Reviews[0].Verified)
	assert.Equal(t, "No date", row.Reviews[1].Date)
	assert.Equal(t, "Anonymous", row.Reviews[1].Reviewer)

	require.Contains(t, stats, "review_date")
	assert.Equal(t, 1, stats["review_date"].Hits)
	assert.Positive(t, stats["review_date"].Misses)
}
