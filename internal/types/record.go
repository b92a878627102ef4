package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Record is a completed unit of output handed to sinks and downstream consumers.
type Record interface {
	// Key uniquely identifies the record within a run.
	Key() string

	// Flat returns the record as column -> value for tabular sinks.
	Flat() map[string]string
}

// ReviewColumns is the fixed CSV column order in per-review mode.
var ReviewColumns = []string{
	"product_id",
	"product_name",
	"product_price",
	"product_rating",
	"product_url",
	"review_count",
	"review_id",
	"review_text",
	"rating",
	"review_date",
	"reviewer_name",
	"verified_purchase",
	"likes",
	"images",
	"seller_response_text",
	"seller_response_date",
	"seller_response_likes",
	"scraped_at",
}

// ProductColumns is the fixed CSV column order in per-product mode.
var ProductColumns = []string{
	"product_id",
	"product_name",
	"product_price",
	"product_rating",
	"product_url",
	"review_count",
	"reviews_scraped",
	"reviews",
	"scraped_at",
}

// ProductRecord holds the product-level fields of one product page.
type ProductRecord struct {
	ID          string    `json:"product_id"     bson:"product_id"`
	Name        string    `json:"product_name"   bson:"product_name"`
	Price       string    `json:"product_price"  bson:"product_price"`
	Rating      float64   `json:"product_rating" bson:"product_rating"`
	URL         string    `json:"product_url"    bson:"product_url"`
	ReviewCount int       `json:"review_count"   bson:"review_count"`
	ScrapedAt   time.Time `json:"scraped_at"     bson:"scraped_at"`
}

// SellerResponse is the optional seller reply attached to a review.
type SellerResponse struct {
	Text  string `json:"text"  bson:"text"`
	Date  string `json:"date"  bson:"date"`
	Likes int    `json:"likes" bson:"likes"`
}

// ReviewRecord is one normalized customer review.
type ReviewRecord struct {
	ID             string          `json:"review_id"                 bson:"review_id"`
	Text           string          `json:"review_text"               bson:"review_text"`
	Rating         int             `json:"rating"                    bson:"rating"`
	Date           string          `json:"review_date"               bson:"review_date"`
	Reviewer       string          `json:"reviewer_name"             bson:"reviewer_name"`
	Verified       bool            `json:"verified_purchase"         bson:"verified_purchase"`
	Likes          int             `json:"likes"                     bson:"likes"`
	Images         []string        `json:"images"                    bson:"images"`
	SellerResponse *SellerResponse `json:"seller_response,omitempty" bson:"seller_response,omitempty"`
}

// ReviewID builds the deterministic identifier of the ordinal-th review of a product.
func ReviewID(productID string, ordinal int) string {
	return fmt.Sprintf("%s_review_%d", productID, ordinal)
}

// ReviewRow is a review denormalized with its product, one sink row per review.
type ReviewRow struct {
	Product ProductRecord `json:"product" bson:"product"`
	Review  ReviewRecord  `json:"review"  bson:"review"`
}

func (r ReviewRow) Key() string { return r.Review.ID }

func (r ReviewRow) Flat() map[string]string {
	flat := r.Product.flat()
	flat["review_id"] = r.Review.ID
	flat["review_text"] = r.Review.Text
	flat["rating"] = strconv.Itoa(r.Review.Rating)
	flat["review_date"] = r.Review.Date
	flat["reviewer_name"] = r.Review.Reviewer
	flat["verified_purchase"] = strconv.FormatBool(r.Review.Verified)
	flat["likes"] = strconv.Itoa(r.Review.Likes)
	flat["images"] = encodeList(r.Review.Images)
	if sr := r.Review.SellerResponse; sr != nil {
		flat["seller_response_text"] = sr.Text
		flat["seller_response_date"] = sr.Date
		flat["seller_response_likes"] = strconv.Itoa(sr.Likes)
	} else {
		flat["seller_response_text"] = ""
		flat["seller_response_date"] = ""
		flat["seller_response_likes"] = ""
	}
	return flat
}

// ProductRow is a product with all of its reviews, one sink row per product.
type ProductRow struct {
	Product ProductRecord  `json:"product" bson:"product"`
	Reviews []ReviewRecord `json:"reviews" bson:"reviews"`
}

func (r ProductRow) Key() string { return r.Product.ID }

func (r ProductRow) Flat() map[string]string {
	flat := r.Product.flat()
	flat["reviews_scraped"] = strconv.Itoa(len(r.Reviews))
	reviews := r.Reviews
	if reviews == nil {
		reviews = []ReviewRecord{}
	}
	b, _ := json.Marshal(reviews)
	flat["reviews"] = string(b)
	return flat
}

func (p ProductRecord) flat() map[string]string {
	flat := make(map[string]string, len(ReviewColumns))
	flat["product_id"] = p.ID
	flat["product_name"] = p.Name
	flat["product_price"] = p.Price
	flat["product_rating"] = strconv.FormatFloat(p.Rating, 'f', -1, 64)
	flat["product_url"] = p.URL
	flat["review_count"] = strconv.Itoa(p.ReviewCount)
	if !p.ScrapedAt.IsZero() {
		flat["scraped_at"] = p.ScrapedAt.Format(time.RFC3339)
	} else {
		flat["scraped_at"] = ""
	}
	return flat
}

func encodeList(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}
