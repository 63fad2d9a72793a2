// Package router dispatches fetched pages to the per-page-type handlers and
// emits the follow-up crawl targets. It is the only place crawl transitions
// are encoded: navigation fans out to category counts, counts to listing
// pages, listings to detail pages or records, detail pages to records.
package router

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricepulse/shopcrawler/internal/catalog"
	"github.com/pricepulse/shopcrawler/internal/extract"
	"github.com/pricepulse/shopcrawler/internal/fetch"
	"github.com/pricepulse/shopcrawler/internal/ledger"
	"github.com/pricepulse/shopcrawler/internal/market"
	"github.com/pricepulse/shopcrawler/internal/request"
)

// Claimer gates record emission; implemented by ledger.DedupLedger.
type Claimer interface {
	TryClaim(ctx context.Context, key string) bool
}

// Recorder accepts records for buffered output; implemented by
// ledger.ProgressLedger.
type Recorder interface {
	Add(ctx context.Context, rec catalog.ProductRecord) error
}

// Snapshots archives raw pages whose extraction exhausted every strategy.
type Snapshots interface {
	Save(ctx context.Context, pageURL string, body []byte) error
}

// Category pages with no recoverable count still get paginated with this
// assumed total so their products are not skipped outright.
const defaultCategoryTotal = 500

var defaultDenySlugs = []string{"view-all", "view all", "last-chance", "last chance"}

// Config holds the router's per-run settings.
type Config struct {
	AllowDivisions []string
	DenySlugs      []string
	PageSize       int
}

// Router routes one fetched page to its handler. Stateless apart from the
// injected ledgers; safe for concurrent use by the worker pool.
type Router struct {
	market    market.Market
	engine    *extract.Engine
	dedup     Claimer
	progress  Recorder
	limit     *ledger.LimitState
	snapshots Snapshots
	abort     func()
	abortOnce sync.Once

	allowDivisions map[string]struct{}
	denySlugs      []string
	pageSize       int
	logger         *zap.Logger
	now            func() time.Time
}

// New constructs a Router. abort is invoked at most once, when the record cap
// is observed reached before a unit of work.
func New(
	cfg Config,
	m market.Market,
	engine *extract.Engine,
	dedup Claimer,
	progress Recorder,
	limit *ledger.LimitState,
	snapshots Snapshots,
	abort func(),
	logger *zap.Logger,
) *Router {
	allow := make(map[string]struct{}, len(cfg.AllowDivisions))
	for _, d := range cfg.AllowDivisions {
		allow[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	deny := cfg.DenySlugs
	if len(deny) == 0 {
		deny = defaultDenySlugs
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > request.MaxPageSize {
		pageSize = request.MaxPageSize
	}
	if abort == nil {
		abort = func() {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		market:         m,
		engine:         engine,
		dedup:          dedup,
		progress:       progress,
		limit:          limit,
		snapshots:      snapshots,
		abort:          abort,
		allowDivisions: allow,
		denySlugs:      deny,
		pageSize:       pageSize,
		logger:         logger,
		now:            time.Now,
	}
}

// SeedTarget returns the crawl's initial navigation target for the market.
func SeedTarget(m market.Market, mode catalog.ExtractionMode) catalog.CrawlTarget {
	return catalog.CrawlTarget{
		URL:  m.NavigationURL(),
		Type: catalog.PageNavigation,
		Context: catalog.CrawlContext{
			Market: m.Name,
			Mode:   mode,
		},
	}
}

// Handle processes one fetched page and returns the follow-up targets. When
// the record cap has been reached it performs no work and signals abort.
func (r *Router) Handle(ctx context.Context, target catalog.CrawlTarget, page fetch.Page) ([]catalog.CrawlTarget, error) {
	if r.limit != nil && r.limit.ReachedLimit() {
		r.abortOnce.Do(func() {
			r.logger.Info("record cap reached, aborting crawl", zap.Int64("saved", r.limit.SavedCount()))
			r.abort()
		})
		return nil, nil
	}

	switch target.Type {
	case catalog.PageNavigation:
		return r.handleNavigation(target, page)
	case catalog.PageCategoryCount:
		return r.handleCategoryCount(target, page)
	case catalog.PageListing:
		return r.handleListing(ctx, target, page)
	case catalog.PageProductDetail:
		return r.handleDetail(ctx, target, page)
	default:
		return nil, fmt.Errorf("unknown page type %q for %s", target.Type, target.URL)
	}
}

// handleNavigation parses the taxonomy and emits one CATEGORY_COUNT target
// per surviving category node. Non-leaf categories are emitted as well:
// category pages can carry products assigned to no subcategory.
func (r *Router) handleNavigation(target catalog.CrawlTarget, page fetch.Page) ([]catalog.CrawlTarget, error) {
	root, err := r.engine.ExtractNavigation(target.URL, page.Body)
	if err != nil {
		return nil, err
	}

	var children []catalog.CrawlTarget
	for _, division := range root.Children {
		if !r.divisionAllowed(division) {
			r.logger.Debug("division filtered", zap.String("division", division.Title))
			continue
		}
		for _, node := range division.Children {
			children = append(children, r.categoryTargets(target.Context, division, node)...)
		}
	}
	r.logger.Info("navigation expanded",
		zap.String("market", target.Context.Market),
		zap.Int("categories", len(children)),
	)
	return children, nil
}

func (r *Router) divisionAllowed(division catalog.NavigationNode) bool {
	if len(r.allowDivisions) == 0 {
		return true
	}
	for _, label := range []string{division.TrackingLabel, division.Title} {
		if _, ok := r.allowDivisions[strings.ToLower(strings.TrimSpace(label))]; ok {
			return true
		}
	}
	return false
}

// categoryTargets walks one category subtree depth-first, emitting a target
// for the node itself and every non-denied descendant.
func (r *Router) categoryTargets(parent catalog.CrawlContext, division, node catalog.NavigationNode) []catalog.CrawlTarget {
	if r.denied(node) {
		return nil
	}
	ctx := parent
	ctx.Division = division.Title
	ctx.Category = node.Title

	out := []catalog.CrawlTarget{{
		URL:     r.market.BaseURL + node.AliasPath,
		Type:    catalog.PageCategoryCount,
		Context: ctx,
	}}
	for _, child := range node.Children {
		out = append(out, r.categoryTargets(parent, division, child)...)
	}
	return out
}

func (r *Router) denied(node catalog.NavigationNode) bool {
	title := strings.ToLower(node.Title)
	alias := strings.ToLower(node.AliasPath)
	for _, slug := range r.denySlugs {
		if strings.Contains(title, slug) || strings.Contains(alias, strings.ReplaceAll(slug, " ", "-")) {
			return true
		}
	}
	return false
}

// handleCategoryCount recovers the category's total item count and fans out
// one LISTING_PAGE target per page of results.
func (r *Router) handleCategoryCount(target catalog.CrawlTarget, page fetch.Page) ([]catalog.CrawlTarget, error) {
	total, ok := r.engine.CategoryCount(target.URL, page.Body)
	if !ok {
		total = defaultCategoryTotal
		r.logger.Warn("category count unavailable, assuming default",
			zap.String("url", target.URL),
			zap.Int("assumed", total),
		)
	}

	base, _, err := request.ParseURL(target.URL)
	if err != nil {
		return nil, &catalog.ParsingError{URL: target.URL, Reason: err.Error()}
	}

	offsets := request.PageOffsets(total, r.pageSize)
	children := make([]catalog.CrawlTarget, 0, len(offsets))
	for _, off := range offsets {
		listingURL, err := request.ListingQuery{Offset: off, PageSize: r.pageSize}.BuildURL(base)
		if err != nil {
			return nil, fmt.Errorf("build listing url for %s: %w", base, err)
		}
		ctx := target.Context
		ctx.ListedSoFar = off
		children = append(children, catalog.CrawlTarget{
			URL:     listingURL,
			Type:    catalog.PageListing,
			Context: ctx,
		})
	}
	r.logger.Debug("category paginated",
		zap.String("category", target.Context.Category),
		zap.Int("total", total),
		zap.Int("pages", len(children)),
	)
	return children, nil
}

// handleListing extracts the page's product stubs. Shallow mode emits records
// directly; deep mode emits one PRODUCT_DETAIL target per stub, carrying the
// stub so known fields survive to the detail handler.
func (r *Router) handleListing(ctx context.Context, target catalog.CrawlTarget, page fetch.Page) ([]catalog.CrawlTarget, error) {
	listing, err := r.engine.ExtractListing(target.URL, page.Body)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		// Last resort before giving up: a pure selector pass. A page with
		// products on it must not be dropped silently.
		listing, err = r.engine.ExtractListingDOM(target.URL, page.Body)
		if err != nil {
			return nil, err
		}
	}
	if listing == nil || len(listing.Products) == 0 {
		r.snapshotExhausted(ctx, target.URL, page.Body)
		return nil, &catalog.ParsingError{URL: target.URL, Reason: "no extraction strategy recovered products"}
	}

	var children []catalog.CrawlTarget
	capped := false
	for _, stub := range listing.Products {
		if r.limit != nil && r.limit.ReachedLimit() {
			r.abortOnce.Do(r.abort)
			capped = true
			break
		}
		switch target.Context.Mode {
		case catalog.ModeDeep:
			if t, ok := r.detailTarget(target.Context, stub); ok {
				children = append(children, t)
			}
		default:
			r.emitFromStub(ctx, target.Context, stub)
		}
	}
	if capped {
		return nil, nil
	}

	if next, ok := r.nextListingTarget(target, listing); ok {
		children = append(children, next)
	}
	return children, nil
}

// nextListingTarget applies the offset arithmetic: another page exists when
// the category total exceeds what this page and its predecessors listed.
func (r *Router) nextListingTarget(target catalog.CrawlTarget, listing *catalog.ListingPage) (catalog.CrawlTarget, bool) {
	base, q, err := request.ParseURL(target.URL)
	if err != nil {
		return catalog.CrawlTarget{}, false
	}
	listed := target.Context.ListedSoFar + len(listing.Products)
	var more bool
	if listing.TotalCount > 0 {
		more = listing.TotalCount > listed && q.Offset+q.PageSize < listing.TotalCount
	} else {
		more = listing.NextPageAvailable
	}
	if !more {
		return catalog.CrawlTarget{}, false
	}
	nextURL, err := q.NextPage().BuildURL(base)
	if err != nil {
		return catalog.CrawlTarget{}, false
	}
	ctx := target.Context
	ctx.ListedSoFar = listed
	return catalog.CrawlTarget{URL: nextURL, Type: catalog.PageListing, Context: ctx}, true
}

func (r *Router) detailTarget(parent catalog.CrawlContext, stub catalog.ProductStub) (catalog.CrawlTarget, bool) {
	if stub.URL == "" {
		return catalog.CrawlTarget{}, false
	}
	ctx := parent
	stubCopy := stub
	ctx.Stub = &stubCopy
	return catalog.CrawlTarget{
		URL:     r.absoluteURL(stub.URL),
		Type:    catalog.PageProductDetail,
		Context: ctx,
	}, true
}

// emitFromStub sanitizes, validates, claims, and records a listing stub as a
// full record. Validation failures skip the stub; siblings continue.
func (r *Router) emitFromStub(ctx context.Context, crawlCtx catalog.CrawlContext, stub catalog.ProductStub) {
	rec := r.recordFromStub(crawlCtx, stub)
	rec.Sanitize(r.now())
	if err := rec.Validate(); err != nil {
		r.logger.Debug("stub rejected", zap.String("article", stub.ArticleNo), zap.Error(err))
		return
	}
	if !r.dedup.TryClaim(ctx, rec.DedupKey()) {
		return
	}
	if err := r.progress.Add(ctx, rec); err != nil {
		r.logger.Error("record buffering failed", zap.String("article", rec.ArticleNo), zap.Error(err))
	}
}

// handleDetail re-extracts the full product and emits one record per
// previously-unclaimed color/size combination. Already-claimed combinations
// are skipped silently; a detail page reached twice is not an error.
func (r *Router) handleDetail(ctx context.Context, target catalog.CrawlTarget, page fetch.Page) ([]catalog.CrawlTarget, error) {
	detail, err := r.engine.ExtractDetail(target.URL, page.Body)
	if err != nil {
		r.snapshotExhausted(ctx, target.URL, page.Body)
		return nil, err
	}
	if detail == nil {
		// No detail payload on the page. The stub hint is still a valid
		// product observation, so fall back to it rather than losing the item.
		if target.Context.Stub != nil {
			r.emitFromStub(ctx, target.Context, *target.Context.Stub)
		}
		return nil, nil
	}

	for _, variant := range detail.Variants {
		if r.limit != nil && r.limit.ReachedLimit() {
			r.abortOnce.Do(r.abort)
			break
		}
		rec := r.recordFromVariant(target.Context, detail, variant, target.URL)
		rec.Sanitize(r.now())
		if err := rec.Validate(); err != nil {
			r.logger.Debug("variant rejected", zap.String("article", variant.ArticleNo), zap.Error(err))
			continue
		}
		if !r.dedup.TryClaim(ctx, catalog.VariantDedupKey(rec.ArticleNo, rec.Market, rec.Size)) {
			continue
		}
		if err := r.progress.Add(ctx, rec); err != nil {
			r.logger.Error("record buffering failed", zap.String("article", rec.ArticleNo), zap.Error(err))
		}
	}
	return nil, nil
}

func (r *Router) recordFromStub(crawlCtx catalog.CrawlContext, stub catalog.ProductStub) catalog.ProductRecord {
	currency := stub.Currency
	if currency == "" {
		currency = r.market.Currency
	}
	return catalog.ProductRecord{
		ArticleNo:   catalog.NormalizeArticleNo(stub.ArticleNo),
		Title:       stub.Title,
		Description: stub.Description,
		Division:    crawlCtx.Division,
		Category:    crawlCtx.Category,
		ListPrice:   stub.ListPrice,
		SalePrice:   stub.SalePrice,
		Currency:    currency,
		Color:       stub.Color,
		ImageURLs:   stub.ImageURLs,
		Market:      crawlCtx.Market,
		URL:         r.absoluteURL(stub.URL),
	}
}

func (r *Router) recordFromVariant(crawlCtx catalog.CrawlContext, detail *catalog.ProductDetail, v catalog.Variant, pageURL string) catalog.ProductRecord {
	currency := detail.Currency
	if currency == "" {
		currency = r.market.Currency
	}
	rec := catalog.ProductRecord{
		ArticleNo:   catalog.NormalizeArticleNo(v.ArticleNo),
		Title:       detail.Title,
		Description: detail.Description,
		Division:    crawlCtx.Division,
		Category:    crawlCtx.Category,
		ListPrice:   v.ListPrice,
		SalePrice:   v.SalePrice,
		Currency:    currency,
		Color:       v.Color,
		Size:        v.Size,
		ImageURLs:   v.ImageURLs,
		Market:      crawlCtx.Market,
		URL:         pageURL,
	}
	if stub := crawlCtx.Stub; stub != nil {
		if rec.Title == "" {
			rec.Title = stub.Title
		}
		if rec.ListPrice == 0 {
			rec.ListPrice = stub.ListPrice
		}
		if rec.SalePrice == 0 {
			rec.SalePrice = stub.SalePrice
		}
		if rec.Color == "" {
			rec.Color = stub.Color
		}
		if len(rec.ImageURLs) == 0 {
			rec.ImageURLs = stub.ImageURLs
		}
	}
	return rec
}

func (r *Router) snapshotExhausted(ctx context.Context, pageURL string, body []byte) {
	if r.snapshots == nil {
		return
	}
	if err := r.snapshots.Save(ctx, pageURL, body); err != nil {
		r.logger.Warn("page snapshot failed", zap.String("url", pageURL), zap.Error(err))
	}
}

func (r *Router) absoluteURL(href string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(r.market.BaseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
