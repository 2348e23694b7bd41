package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/order-parser/internal/company"
	"github.com/sells-group/order-parser/internal/extract"
	"github.com/sells-group/order-parser/internal/mapping"
	"github.com/sells-group/order-parser/internal/resilience"
	"github.com/sells-group/order-parser/pkg/anthropic"
	"github.com/sells-group/order-parser/pkg/anthropic/mocks"
)

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:      "msg_1",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}
}

func fastRetry() resilience.Policy {
	return resilience.Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestClaude_Extract(t *testing.T) {
	client := mocks.NewMockClient(t)
	identity := company.NewIdentity([]string{"11222333000181"}, []string{"OLIGO BASICS"})

	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		prompt := req.Messages[0].Content
		return req.Model == "claude-test" &&
			req.System != "" &&
			assert.Contains(t, prompt, "Document type: purchase_order") &&
			assert.Contains(t, prompt, "11222333000181") &&
			assert.Contains(t, prompt, "Order numbers found: 4500123") &&
			assert.Contains(t, prompt, "Bank transfer: Yes") &&
			assert.Contains(t, prompt, "PEDIDO DE COMPRA 4500123")
	})).Return(textResponse("```json\n"+`{
		"order": {"customer_order_number": "4500123", "customer_name": "AGRO SUL LTDA", "payment_terms_days": "28"},
		"lines": [{"description": "Farelo", "quantity": 1000, "unit_of_measure": "KG", "unit_price_excl_vat": "2,50"}]
	}`+"\n```"), nil).Once()

	days := 28
	yes := true
	c := NewClaude(client, identity, ClaudeConfig{Model: "claude-test", Retry: fastRetry()})
	ext, err := c.Extract(context.Background(), Request{
		Text:         "PEDIDO DE COMPRA 4500123",
		DocumentType: "purchase_order",
		Data: &extract.Result{
			OrderNumbers: []string{"4500123"},
			PaymentTerms: extract.PaymentTerms{Days: &days, BankTransfer: &yes},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "4500123", ext.Order.CustomerOrderNumber)
	assert.Equal(t, "AGRO SUL LTDA", ext.Order.CustomerName)
	assert.Equal(t, 28.0, ext.Order.PaymentTermsDays.Float())
	require.Len(t, ext.Lines, 1)
	assert.Equal(t, 1000.0, ext.Lines[0].Quantity.Float())
	assert.Equal(t, 2.5, ext.Lines[0].UnitPriceExclVAT.Float())
}

func TestClaude_RetriesTransientErrors(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.Transient(errors.New("overloaded"), 529)).Twice()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"order": {}, "lines": []}`), nil).Once()

	c := NewClaude(client, nil, ClaudeConfig{Model: "m", Retry: fastRetry()})
	ext, err := c.Extract(context.Background(), Request{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, ext.Lines)
}

func TestClaude_PermanentErrorNotRetried(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("invalid x-api-key")).Once()

	c := NewClaude(client, nil, ClaudeConfig{Model: "m", Retry: fastRetry()})
	_, err := c.Extract(context.Background(), Request{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm: extract order")
}

func TestClaude_InvalidJSON(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I could not read this document."), nil).Once()

	c := NewClaude(client, nil, ClaudeConfig{Model: "m", Retry: fastRetry()})
	_, err := c.Extract(context.Background(), Request{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm: decode extraction")
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", "Here it is: {\"a\":1} hope it helps", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func num(v float64) *Num {
	n := Num(v)
	return &n
}

func TestToDraft_PaymentFromModelDays(t *testing.T) {
	ext := &Extraction{Order: Order{PaymentTermsDays: num(30), PaymentDaysOfMonth: "10-20"}}
	d := ToDraft(ext, nil, mapping.Defaults())
	assert.Equal(t, "30D-10-20", d.Order.PaymentTermsCode)
}

func TestToDraft_PaymentFromMappingTable(t *testing.T) {
	ext := &Extraction{Order: Order{PaymentTerms: "Pagamento 28 DDL"}}
	d := ToDraft(ext, nil, mapping.Defaults())
	assert.Equal(t, "28DDL", d.Order.PaymentTermsCode)
}

func TestToDraft_PaymentFromDeterministicFacts(t *testing.T) {
	days := 28
	data := &extract.Result{PaymentTerms: extract.PaymentTerms{Days: &days, PaymentDays: []int{5, 20}}}
	d := ToDraft(&Extraction{Order: Order{PaymentTerms: "combinar"}}, data, mapping.Defaults())
	assert.Equal(t, "28D-05-20", d.Order.PaymentTermsCode)
}

func TestToDraft_PaymentMethod(t *testing.T) {
	yes := true
	tests := []struct {
		name   string
		method string
		data   *extract.Result
		want   string
	}{
		{"bank mention", "Bank deposit", nil, PaymentMethodBankTransfer},
		{"deterministic flag wins", "BOLETO", &extract.Result{PaymentTerms: extract.PaymentTerms{BankTransfer: &yes}}, PaymentMethodBankTransfer},
		{"kept as is", "BOLETO", nil, "BOLETO"},
		{"empty", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ToDraft(&Extraction{Order: Order{PaymentMethod: tt.method}}, tt.data, nil)
			assert.Equal(t, tt.want, d.Order.PaymentMethodCode)
		})
	}
}

func TestToDraft_CodesAndLines(t *testing.T) {
	ext := &Extraction{
		Order: Order{
			ShippingMethod: "cif",
			CurrencyCode:   "reais",
			CustomerCNPJ:   "12.345.678/0001-95",
			BillCity:       "Cascavel",
			ShipZip:        "85800-000",
		},
		Lines: []Line{
			{CustomerOrderItemNo: "1", Description: "Farelo", Quantity: num(1000), UnitOfMeasure: "KG", UnitPriceExclVAT: num(2.5)},
			{Description: "Sem preco"},
		},
	}
	d := ToDraft(ext, nil, mapping.Defaults())

	assert.Equal(t, "CIF", d.Order.ShippingMethodCode)
	assert.Equal(t, "BRL", d.Order.CurrencyCode)
	assert.Equal(t, "12.345.678/0001-95", d.Order.SellTo.CNPJ)
	assert.Equal(t, "Cascavel", d.Order.BillTo.City)
	assert.Equal(t, "85800-000", d.Order.ShipTo.Zip)
	assert.Empty(t, d.Order.CompanyBankAccountCode)

	require.Len(t, d.Lines, 2)
	assert.Equal(t, "1000", d.Lines[0].Quantity)
	assert.Equal(t, "2.5", d.Lines[0].UnitPrice)
	assert.Empty(t, d.Lines[1].Quantity)
	assert.Empty(t, d.Lines[1].UnitPrice)
}

func TestToDraft_UnknownCurrencyKeptRaw(t *testing.T) {
	d := ToDraft(&Extraction{Order: Order{CurrencyCode: "GBP"}}, nil, mapping.Defaults())
	assert.Equal(t, "GBP", d.Order.CurrencyCode)
}

func TestToDraft_Nil(t *testing.T) {
	d := ToDraft(nil, nil, nil)
	require.NotNil(t, d)
	assert.Empty(t, d.Lines)
}
