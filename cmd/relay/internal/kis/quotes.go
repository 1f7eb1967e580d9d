package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HurDong/Glance/cmd/relay/internal/feed"
	"github.com/HurDong/Glance/pkg/models"
)

const (
	trDomesticPrice = "FHKST01010100"
	trOverseasPrice = "HHDFS00000300"
)

var (
	_ feed.CredentialSource = (*TokenProvider)(nil)
	_ feed.KeyInvalidator   = (*TokenProvider)(nil)
)

// TokenSource hands out bearer tokens for REST calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// QuoteClient performs point-in-time price queries against the REST API.
type QuoteClient struct {
	creds  Credentials
	tokens TokenSource
	venues feed.VenueResolver
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewQuoteClient(creds Credentials, tokens TokenSource, venues feed.VenueResolver, httpClient *http.Client, logger *zap.Logger) *QuoteClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &QuoteClient{
		creds:  creds,
		tokens: tokens,
		venues: venues,
		http:   httpClient,
		logger: logger.With(zap.String("component", "kis-quotes")),
		now:    time.Now,
	}
}

type apiEnvelope struct {
	ReturnCode string          `json:"rt_cd"`
	MsgCode    string          `json:"msg_cd"`
	Message    string          `json:"msg1"`
	Output     json.RawMessage `json:"output"`
}

type domesticOutput struct {
	Price      string `json:"stck_prpr"`
	Change     string `json:"prdy_vrss"`
	ChangeRate string `json:"prdy_ctrt"`
	Volume     string `json:"acml_vol"`
}

type overseasOutput struct {
	Last   string `json:"last"`
	Sign   string `json:"sign"`
	Diff   string `json:"diff"`
	Rate   string `json:"rate"`
	Volume string `json:"tvol"`
}

// CurrentPrice fetches the latest price for a domestic code or overseas ticker.
func (c *QuoteClient) CurrentPrice(ctx context.Context, symbol string) (models.PriceUpdate, error) {
	if feed.IsOverseas(symbol) {
		return c.overseasPrice(ctx, symbol)
	}
	return c.domesticPrice(ctx, symbol)
}

func (c *QuoteClient) domesticPrice(ctx context.Context, symbol string) (models.PriceUpdate, error) {
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_INPUT_ISCD", symbol)

	var out domesticOutput
	if err := c.get(ctx, "/uapi/domestic-stock/v1/quotations/inquire-price", trDomesticPrice, q, &out); err != nil {
		return models.PriceUpdate{}, fmt.Errorf("domestic price %s: %w", symbol, err)
	}
	if out.Price == "" {
		return models.PriceUpdate{}, fmt.Errorf("domestic price %s: empty output", symbol)
	}

	return models.PriceUpdate{
		Symbol:     symbol,
		Price:      out.Price,
		Change:     out.Change,
		ChangeRate: out.ChangeRate,
		Volume:     out.Volume,
		Time:       c.now().Format("150405"),
	}, nil
}

func (c *QuoteClient) overseasPrice(ctx context.Context, symbol string) (models.PriceUpdate, error) {
	q := url.Values{}
	q.Set("AUTH", "")
	q.Set("EXCD", c.exchangeCode(ctx, symbol))
	q.Set("SYMB", symbol)

	var out overseasOutput
	if err := c.get(ctx, "/uapi/overseas-price/v1/quotations/price", trOverseasPrice, q, &out); err != nil {
		return models.PriceUpdate{}, fmt.Errorf("overseas price %s: %w", symbol, err)
	}
	if out.Last == "" {
		return models.PriceUpdate{}, fmt.Errorf("overseas price %s: empty output", symbol)
	}

	return models.PriceUpdate{
		Symbol:     symbol,
		Price:      out.Last,
		Change:     feed.ApplySign(out.Sign, out.Diff),
		ChangeRate: out.Rate,
		Volume:     out.Volume,
		Time:       c.now().Format("150405"),
	}, nil
}

// exchangeCode maps the symbol master's exchange onto the REST EXCD parameter.
func (c *QuoteClient) exchangeCode(ctx context.Context, symbol string) string {
	if c.venues == nil {
		return "NAS"
	}
	exchange, err := c.venues.Exchange(ctx, symbol)
	if err != nil {
		c.logger.Debug("Exchange lookup failed, assuming NASDAQ", zap.String("symbol", symbol), zap.Error(err))
		return "NAS"
	}
	switch strings.ToUpper(exchange) {
	case "NYSE":
		return "NYS"
	case "AMEX":
		return "AMS"
	default:
		return "NAS"
	}
}

func (c *QuoteClient) get(ctx context.Context, path, trID string, query url.Values, out interface{}) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.creds.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("appkey", c.creds.AppKey)
	req.Header.Set("appsecret", c.creds.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var env apiEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if env.ReturnCode != "" && env.ReturnCode != "0" {
		return fmt.Errorf("rt_cd %s (%s): %s", env.ReturnCode, env.MsgCode, env.Message)
	}
	if len(env.Output) == 0 {
		return fmt.Errorf("response without output")
	}
	return json.Unmarshal(env.Output, out)
}
