package sharelink_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/billing-core/internal/billing/documents"
	"github.com/odyssey-erp/billing-core/internal/billing/documents/doctest"
	"github.com/odyssey-erp/billing-core/internal/billing/shared"
	"github.com/odyssey-erp/billing-core/internal/billing/sharelink"
	"github.com/odyssey-erp/billing-core/internal/billing/sharelink/linktest"
)

const owner = "owner-1"

type fixture struct {
	docs   *documents.Service
	tokens *linktest.Repository
	redis  *miniredis.Miniredis
	svc    *sharelink.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	docs := documents.NewService(doctest.NewRepository(), documents.ServiceConfig{
		DefaultCurrency: "ILS",
		DefaultVATRate:  decimal.RequireFromString("0.17"),
		Clock:           func() time.Time { return now },
	})
	tokens := linktest.NewRepository()
	svc := sharelink.NewService(tokens, docs, client, sharelink.Config{
		BaseURL:  "https://billing.example.com/",
		CacheTTL: time.Minute,
		Clock:    func() time.Time { return now },
	})
	return &fixture{docs: docs, tokens: tokens, redis: mr, svc: svc}
}

func (f *fixture) create(t *testing.T, kind shared.Kind) documents.Document {
	t.Helper()
	guest := "Dana"
	doc, err := f.docs.Create(context.Background(), kind, owner, documents.Input{
		IssueDate:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		GuestClientName: &guest,
		Lines: []documents.LineInput{
			{Description: "Consulting", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(100)},
		},
	})
	require.NoError(t, err)
	return doc
}

func TestNewTokenIsHex32(t *testing.T) {
	token, err := sharelink.NewToken()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), token)

	other, err := sharelink.NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestGetOrCreateReturnsSameToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quote := f.create(t, shared.KindQuote)

	first, err := f.svc.GetOrCreate(ctx, shared.KindQuote, quote.ID, owner)
	require.NoError(t, err)
	second, err := f.svc.GetOrCreate(ctx, shared.KindQuote, quote.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)
}

func TestGetOrCreateConcurrentCallsAgree(t *testing.T) {
	f := newFixture(t)
	invoice := f.create(t, shared.KindInvoice)

	const workers = 20
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := f.svc.GetOrCreate(context.Background(), shared.KindInvoice, invoice.ID, owner)
			assert.NoError(t, err)
			results[i] = token.Token
		}(i)
	}
	wg.Wait()
	for _, token := range results {
		assert.Equal(t, results[0], token)
	}
}

func TestGetOrCreateRejectsForeignOwner(t *testing.T) {
	f := newFixture(t)
	quote := f.create(t, shared.KindQuote)

	_, err := f.svc.GetOrCreate(context.Background(), shared.KindQuote, quote.ID, "intruder")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestIssueLinkBuildsURL(t *testing.T) {
	f := newFixture(t)
	note := f.create(t, shared.KindInvoice)

	link, err := f.svc.IssueLink(context.Background(), shared.KindInvoice, note.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "https://billing.example.com/invoice/"+link.Token, link.URL)
}

func TestResolveCachesInRedis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quote := f.create(t, shared.KindQuote)
	token, err := f.svc.GetOrCreate(ctx, shared.KindQuote, quote.ID, owner)
	require.NoError(t, err)

	ref, err := f.svc.Resolve(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, sharelink.Ref{Kind: shared.KindQuote, DocumentID: quote.ID, OwnerID: owner}, ref)
	assert.True(t, f.redis.Exists("sharelink:"+token.Token))

	_, err = f.svc.Resolve(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, f.tokens.Finds())
}

func TestResolveUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Resolve(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, shared.ErrTokenNotFound)

	_, err = f.svc.Resolve(context.Background(), "  ")
	assert.ErrorIs(t, err, shared.ErrTokenNotFound)
}

func TestRevokeInvalidatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quote := f.create(t, shared.KindQuote)
	token, err := f.svc.GetOrCreate(ctx, shared.KindQuote, quote.ID, owner)
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, token.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, shared.KindQuote, quote.ID, owner))
	assert.False(t, f.redis.Exists("sharelink:"+token.Token))

	_, err = f.svc.Resolve(ctx, token.Token)
	assert.ErrorIs(t, err, shared.ErrTokenNotFound)

	fresh, err := f.svc.GetOrCreate(ctx, shared.KindQuote, quote.ID, owner)
	require.NoError(t, err)
	assert.NotEqual(t, token.Token, fresh.Token)
}

func TestPublicDocumentHidesIdentifiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.create(t, shared.KindInvoice)
	token, err := f.svc.GetOrCreate(ctx, shared.KindInvoice, invoice.ID, owner)
	require.NoError(t, err)

	view, err := f.svc.PublicDocument(ctx, shared.KindInvoice, token.Token)
	require.NoError(t, err)
	assert.Equal(t, "1001", view.Number)
	assert.Equal(t, "Dana", view.ClientName)
	assert.Equal(t, "1170", view.AmountGross.String())
	assert.Contains(t, view.FormattedGross, "1,170.00")
	assert.False(t, view.CanSign)
	require.Len(t, view.Lines, 1)

	_, err = f.svc.PublicDocument(ctx, shared.KindQuote, token.Token)
	assert.ErrorIs(t, err, shared.ErrTokenNotFound)
}

func TestPublicSignAcceptsSentQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quote := f.create(t, shared.KindQuote)
	_, err := f.docs.SetStatus(ctx, shared.KindQuote, owner, quote.ID, shared.StatusSent)
	require.NoError(t, err)
	token, err := f.svc.GetOrCreate(ctx, shared.KindQuote, quote.ID, owner)
	require.NoError(t, err)

	view, err := f.svc.PublicDocument(ctx, shared.KindQuote, token.Token)
	require.NoError(t, err)
	assert.True(t, view.CanSign)

	signed, err := f.svc.SignQuote(ctx, token.Token, "Dana Levi")
	require.NoError(t, err)
	assert.True(t, signed.IsSigned)
	assert.Equal(t, shared.StatusAccepted, signed.Status)

	_, err = f.svc.SignQuote(ctx, token.Token, "Dana Levi")
	assert.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestPublicSignRejectsInvoiceToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.create(t, shared.KindInvoice)
	token, err := f.svc.GetOrCreate(ctx, shared.KindInvoice, invoice.ID, owner)
	require.NoError(t, err)

	_, err = f.svc.SignQuote(ctx, token.Token, "Someone")
	assert.ErrorIs(t, err, shared.ErrTokenNotFound)
}

func TestFormatAmount(t *testing.T) {
	got := sharelink.FormatAmount(language.English, "USD", decimal.RequireFromString("1234.5"))
	assert.Equal(t, "USD 1,234.50", got)
}
