package config

// Strategy is one candidate way of obtaining a field value: a selector plus
// the transform applied to its first match.
type Strategy struct {
	Selector   string   `mapstructure:"selector"    yaml:"selector"`
	Type       string   `mapstructure:"type"        yaml:"type"`      // css (default), xpath
	Attribute  string   `mapstructure:"attribute"   yaml:"attribute"` // "", text, html, or an attribute name
	Transform  string   `mapstructure:"transform"   yaml:"transform"`
	Pattern    string   `mapstructure:"pattern"     yaml:"pattern"`
	TrimPrefix string   `mapstructure:"trim_prefix" yaml:"trim_prefix"`
	Currency   []string `mapstructure:"currency"    yaml:"currency"`
}

// Chain is an ordered list of strategies for one logical field.
type Chain []Strategy

// Locator identifies a lazily-filled content region on a live page.
type Locator struct {
	Selector     string `mapstructure:"selector"      yaml:"selector"`
	ItemSelector string `mapstructure:"item_selector" yaml:"item_selector"`
	LoadMore     string `mapstructure:"load_more"     yaml:"load_more"`
	Metric       string `mapstructure:"metric"        yaml:"metric"` // scroll_height, item_count
}

// SelectorConfig holds every selector chain the engine uses.
type SelectorConfig struct {
	Category CategorySelectors `mapstructure:"category" yaml:"category"`
	Product  ProductSelectors  `mapstructure:"product"  yaml:"product"`
	Review   ReviewSelectors   `mapstructure:"review"   yaml:"review"`
}

// CategorySelectors locate product links and pagination on listing pages.
type CategorySelectors struct {
	Container    Locator `mapstructure:"container"     yaml:"container"`
	ProductLinks Chain   `mapstructure:"product_links" yaml:"product_links"`
	NextPage     Chain   `mapstructure:"next_page"     yaml:"next_page"`
}

// ProductSelectors locate product-level fields and review nodes.
type ProductSelectors struct {
	Name        Chain   `mapstructure:"name"         yaml:"name"`
	Price       Chain   `mapstructure:"price"        yaml:"price"`
	Rating      Chain   `mapstructure:"rating"       yaml:"rating"`
	ReviewCount Chain   `mapstructure:"review_count" yaml:"review_count"`
	Reviews     Locator `mapstructure:"reviews"      yaml:"reviews"`
	ReviewNodes Chain   `mapstructure:"review_nodes" yaml:"review_nodes"`
}

// ReviewSelectors are evaluated relative to one review node.
type ReviewSelectors struct {
	Text           Chain           `mapstructure:"text"            yaml:"text"`
	Stars          Chain           `mapstructure:"stars"           yaml:"stars"`
	Date           Chain           `mapstructure:"date"            yaml:"date"`
	Reviewer       Chain           `mapstructure:"reviewer"        yaml:"reviewer"`
	Verified       Chain           `mapstructure:"verified"        yaml:"verified"`
	Likes          Chain           `mapstructure:"likes"           yaml:"likes"`
	Images         Chain           `mapstructure:"images"          yaml:"images"`
	SellerResponse Chain           `mapstructure:"seller_response" yaml:"seller_response"`
	Seller         SellerSelectors `mapstructure:"seller"          yaml:"seller"`
}

// SellerSelectors are evaluated relative to the seller-response sub-tree.
type SellerSelectors struct {
	Text  Chain `mapstructure:"text"  yaml:"text"`
	Date  Chain `mapstructure:"date"  yaml:"date"`
	Likes Chain `mapstructure:"likes" yaml:"likes"`
}

// Transforms lists the transform names the resolver understands.
var Transforms = map[string]bool{
	"":               true,
	"trim":           true,
	"collapse":       true,
	"int":            true,
	"float":          true,
	"price":          true,
	"count":          true,
	"exists":         true,
	"background_url": true,
	"url":            true,
}

// DefaultSelectors returns chains for daraz.com.np product and listing pages.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		Category: CategorySelectors{
			Container: Locator{
				Selector:     `div[data-qa-locator="general-products"]`,
				ItemSelector: `div[data-qa-locator="product-item"]`,
				Metric:       "item_count",
			},
			ProductLinks: Chain{
				{Selector: `div[data-qa-locator="product-item"] a[href]`, Attribute: "href", Transform: "url"},
				{Selector: `a.product-card`, Attribute: "href", Transform: "url"},
				{Selector: `//div[@class='Bm3ON']/div/div/div/div/a`, Type: "xpath", Attribute: "href", Transform: "url"},
			},
			NextPage: Chain{
				{Selector: `li.ant-pagination-next:not(.ant-pagination-disabled) a`, Attribute: "href", Transform: "url"},
				{Selector: `a.ant-pagination-next-link`, Attribute: "href", Transform: "url"},
			},
		},
		Product: ProductSelectors{
			Name: Chain{
				{Selector: `h1.pdp-mod-product-badge-title`, Transform: "collapse"},
				{Selector: `//h1[contains(@class,'pdp-mod-product-badge-title')]`, Type: "xpath", Transform: "collapse"},
				{Selector: `meta[property="og:title"]`, Attribute: "content", Transform: "collapse"},
			},
			Price: Chain{
				{Selector: `span.pdp-price_type_normal`, Transform: "price"},
				{Selector: `div.pdp-product-price span`, Transform: "price"},
				{Selector: `span.pdp-price`, Transform: "price"},
			},
			Rating: Chain{
				{Selector: `span.score-average`, Transform: "float"},
				{Selector: `div.pdp-review-summary .score`, Transform: "float"},
			},
			ReviewCount: Chain{
				{Selector: `a.pdp-review-summary__link`, Transform: "int"},
				{Selector: `div.mod-rating div.count`, Transform: "int"},
			},
			Reviews: Locator{
				Selector:     `div.mod-reviews`,
				ItemSelector: `div.mod-reviews div.item`,
				Metric:       "item_count",
			},
			ReviewNodes: Chain{
				{Selector: `div.mod-reviews div.item`},
				{Selector: `//div[@class='item']`, Type: "xpath"},
				{Selector: `div.review-item`},
			},
		},
		Review: ReviewSelectors{
			Text: Chain{
				{Selector: `div.item-content div.content`},
				{Selector: `.//div[@class='content']`, Type: "xpath"},
				{Selector: `div.review-content`},
			},
			Stars: Chain{
				{Selector: `div.container-star img.star[src*="TB19ZvEgfDH8KJjy1XcXXcpdXXa"]`, Transform: "count"},
				{Selector: `.//img[@class='star']`, Type: "xpath", Transform: "count"},
			},
			Date: Chain{
				{Selector: `div.top span.title.right`},
				{Selector: `.//span[@class='title right']`, Type: "xpath"},
				{Selector: `div.review-date`},
			},
			Reviewer: Chain{
				{Selector: `div.middle span:first-child`, TrimPrefix: "by "},
				{Selector: `div.middle span:first-child`},
				{Selector: `div.review-user__name`},
			},
			Verified: Chain{
				{Selector: `div.middle span.verify`, Transform: "exists"},
			},
			Likes: Chain{
				{Selector: `div.bottom span.left-content`, Transform: "int"},
				{Selector: `span.left-content`, Transform: "int"},
			},
			Images: Chain{
				{Selector: `div.review-image div.image`, Attribute: "style", Transform: "background_url"},
				{Selector: `div.review-image__item div.image`, Attribute: "style", Transform: "background_url"},
			},
			SellerResponse: Chain{
				{Selector: `div.item-content--seller-reply`},
				{Selector: `div.seller-reply-wrapper`},
			},
			Seller: SellerSelectors{
				Text: Chain{
					{Selector: `div.content`},
				},
				Date: Chain{
					{Selector: `span.title.right`, TrimPrefix: "Seller Response - "},
					{Selector: `span.title.right`, TrimPrefix: "विक्रेता प्रतिक्रिया - "},
					{Selector: `span.title.right`},
				},
				Likes: Chain{
					{Selector: `span.left-content`, Transform: "int"},
				},
			},
		},
	}
}
