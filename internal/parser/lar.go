package parser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/brazil"
	"github.com/sells-group/order-parser/internal/extract"
	"github.com/sells-group/order-parser/internal/llm"
	"github.com/sells-group/order-parser/internal/model"
)

const larDefaultCustomer = "LAR COOPERATIVA AGROINDUSTRIAL"

var (
	larOrderNumber = compileAll(
		`Numero do Pedido / Ordem de Compra:\s*([0-9]+)`,
		`Nr\.?Ordem de Compra:\s*([0-9]+)`,
		`Ordem de Compra:\s*([0-9]+)`,
	)
	larIssueDate    = compileAll(`Data Emissao:\s*([0-9/.-]{6,10})`)
	larDeliveryDate = compileAll(`Data de Entrega\.?:\s*([0-9/.-]{6,10})`)
	larCurrency     = compileAll(`Moeda:\s*([A-ZÇÃÕÉÍÓÚ ]+)`)
	larShipping     = compileAll(`Frete:\s*([A-Z]{2,4})`)
	larPaymentDays  = compileAll(`Condicoes de Pagamento:\s*([0-9]{2,3})`)
	larCNPJ         = compileAll(`CNPJ:\s*([0-9./-]{14,18})`)

	larHeaderName = regexp.MustCompile(`(?i)ORDEM DE COMPRA\s*-\s*(.+?)\s*Nr\.pagina`)
	larCEP        = regexp.MustCompile(`(\d{5}[-.\s]?\d{3})`)
	larEmail      = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
	larPhone      = regexp.MustCompile(`[0-9()\s.-]{8,}`)
	larUnit       = regexp.MustCompile(`^[A-Za-z]+$`)
	larDigits     = regexp.MustCompile(`^[0-9]+$`)
	larDelivery   = regexp.MustCompile(`(?i)(?:^|\s)-?\s*QUANTIDADE\s+DE\s+([\d.,]+)\s*([A-Z]+)?\s*(?:P/|PARA)\s*ENTREGA\s*EM\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`)
	larDate       = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})[/.-](\d{2,4})$`)
	nonNumeric    = regexp.MustCompile(`[^\d,.-]`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

// matchFirst returns the trimmed first group of the first pattern that matches.
func matchFirst(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// LAR parses the fixed-format purchase orders issued by Lar Cooperativa.
// Documents it cannot read fall back to the generic workflow.
type LAR struct {
	deps    Deps
	generic *Generic
}

// NewLAR creates the LAR parser.
func NewLAR(deps Deps) *LAR {
	deps = deps.withDefaults()
	return &LAR{deps: deps, generic: NewGeneric(deps)}
}

// Parse implements Parser.
func (p *LAR) Parse(ctx context.Context, pc *model.ParseContext) (*model.ParseOutput, error) {
	if pc == nil {
		return nil, eris.New("parser: nil parse context")
	}
	data := pc.Data
	if data == nil {
		data = extract.Extract(pc.RawText)
		data.MarkCustomers(p.deps.Identity)
	}

	draft := p.parseDraft(pc.RawText, data)
	if len(draft.Lines) == 0 {
		zap.L().Warn("parser: lar found no items, using generic workflow",
			zap.String("source", pc.Input.SourceName))
		out, err := p.generic.Parse(ctx, pc)
		if err != nil {
			return nil, err
		}
		attribute(&out.Metadata, "lar")
		return out, nil
	}

	out := &model.ParseOutput{
		Draft:        draft,
		Warnings:     []string{},
		DocumentType: DocPurchaseOrder,
		Metadata:     baseMetadata(pc, versionOr(p.deps.Version, "lar"), p.deps.Now()),
	}
	attribute(&out.Metadata, "lar")
	if draft.Order.SellTo.CNPJ == "" {
		out.AddWarning(WarnNoCNPJ)
	}

	out.SplitOrders = SplitByDeliveryDate(draft)
	out.HasMultipleDates = len(out.SplitOrders) > 1

	zap.L().Info("parser: lar parsed",
		zap.String("order_number", draft.Order.CustomerOrderNumber),
		zap.Int("lines", len(draft.Lines)),
		zap.Int("delivery_dates", len(out.SplitOrders)),
	)
	return out, nil
}

func (p *LAR) parseDraft(text string, data *extract.Result) *model.Draft {
	lines := nonEmptyLines(text)

	paymentTerms, paymentMethod := larPayment(data.PaymentTerms)
	if paymentTerms == "" {
		paymentTerms = matchFirst(text, larPaymentDays)
	}

	addr := larAddress(lines)
	defaultDelivery := larNormalizeDate(matchFirst(text, larDeliveryDate))
	address := model.DraftAddress{
		Address:  addr.line1,
		District: addr.district,
		City:     addr.city,
		State:    addr.state,
		Zip:      addr.zip,
		Country:  "BR",
	}

	return &model.Draft{
		Order: model.DraftOrder{
			CustomerOrderNumber:   matchFirst(text, larOrderNumber),
			OrderDate:             larNormalizeDate(matchFirst(text, larIssueDate)),
			RequestedDeliveryDate: defaultDelivery,
			CurrencyCode:          matchFirst(text, larCurrency),
			PaymentTermsCode:      paymentTerms,
			PaymentMethodCode:     paymentMethod,
			ShippingMethodCode:    matchFirst(text, larShipping),
			SellTo: model.Party{
				Name:  larCustomerName(text, lines),
				CNPJ:  p.customerCNPJ(text, data),
				Email: addr.email,
				Phone: addr.phone,
			},
			BillTo: address,
			ShipTo: address,
		},
		Lines: larItems(lines, defaultDelivery),
	}
}

func larPayment(terms extract.PaymentTerms) (code, method string) {
	if terms.Days != nil && *terms.Days != 0 {
		if len(terms.PaymentDays) > 0 {
			code = llm.DaysCode(*terms.Days, terms.PaymentDays)
		} else {
			code = fmt.Sprintf("%02d", *terms.Days)
		}
	}
	if terms.BankTransfer != nil && *terms.BankTransfer {
		method = llm.PaymentMethodBankTransfer
	}
	return code, method
}

func (p *LAR) customerCNPJ(text string, data *extract.Result) string {
	candidates := data.CustomerCNPJs
	if len(candidates) == 0 {
		for _, c := range data.CNPJs {
			if !p.deps.Identity.IsOwnCNPJ(c) {
				candidates = append(candidates, c)
			}
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return matchFirst(text, larCNPJ)
}

func larCustomerName(text string, lines []string) string {
	if m := larHeaderName.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	for _, line := range lines {
		if !strings.HasPrefix(strings.ToLower(line), "local:") {
			continue
		}
		value := afterColon(line)
		if before, _, ok := strings.Cut(value, " - "); ok {
			value = strings.TrimSpace(before)
		}
		if value != "" {
			return value
		}
		break
	}
	return larDefaultCustomer
}

type larAddr struct {
	line1, district, city, state, zip, email, phone string
}

// larAddress reads the delivery address block that follows the
// "ENDERECO DE ENTREGA" heading.
func larAddress(lines []string) larAddr {
	var a larAddr
	start := -1
	for i, line := range lines {
		if strings.Contains(strings.ToUpper(line), "ENDERECO DE ENTREGA") {
			start = i
			break
		}
	}
	if start < 0 {
		return a
	}

	var section []string
	for _, line := range lines[start+1:] {
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "ORDEM DE COMPRA") || strings.HasPrefix(upper, "***") || strings.HasPrefix(upper, "---") {
			break
		}
		section = append(section, line)
		if strings.Contains(upper, "DATA DE ENTREGA") {
			break
		}
	}

	for _, line := range section {
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "ENDERECO"):
			a.line1 = afterColon(line)
		case strings.HasPrefix(upper, "BAIRRO"):
			a.district = afterColon(line)
		case strings.HasPrefix(upper, "CIDADE"):
			value := afterColon(line)
			if i := strings.LastIndex(value, " "); i >= 0 && utf8.RuneCountInString(value[i+1:]) == 2 {
				a.city, a.state = strings.TrimSpace(value[:i]), value[i+1:]
			} else {
				a.city = value
			}
		case strings.Contains(upper, "CEP"):
			if m := larCEP.FindStringSubmatch(line); m != nil {
				a.zip = m[1]
			}
		case strings.Contains(upper, "E-MAIL") || strings.Contains(upper, "EMAIL"):
			if m := larEmail.FindString(line); m != "" {
				a.email = m
			}
		case strings.HasPrefix(upper, "TELEFONE"):
			if m := larPhone.FindString(line); m != "" {
				a.phone = strings.TrimSpace(m)
			}
		}
	}
	return a
}

// larItems scans for item lines and the delivery sub-lines under each one.
// A base item with delivery sub-lines becomes one line per delivery.
func larItems(lines []string, defaultDelivery string) []model.DraftLine {
	items := []model.DraftLine{}
	for idx := 0; idx < len(lines); {
		base, ok := larItemLine(lines[idx])
		if !ok {
			idx++
			continue
		}

		var deliveries []model.DraftLine
		scan := idx + 1
		for ; scan < len(lines); scan++ {
			next := lines[scan]
			if _, isItem := larItemLine(next); isItem {
				break
			}
			if strings.HasPrefix(strings.ToUpper(next), "ORDEM DE COMPRA") {
				break
			}
			if qty, unit, date, ok := larDeliveryLine(next); ok {
				item := base
				item.Quantity = qty
				if unit != "" {
					item.UnitOfMeasure = unit
				}
				item.DeliveryDate = date
				item.Total = ""
				applyTotal(&item)
				deliveries = append(deliveries, item)
			}
		}

		if len(deliveries) > 0 {
			for _, item := range deliveries {
				item.CustomerOrderItemNo = strconv.Itoa(len(items) + 1)
				items = append(items, item)
			}
		} else {
			if base.DeliveryDate == "" {
				base.DeliveryDate = defaultDelivery
			}
			applyTotal(&base)
			base.CustomerOrderItemNo = strconv.Itoa(len(items) + 1)
			items = append(items, base)
		}
		idx = scan
	}
	return items
}

// larItemLine recognizes an item row by its column layout: a numeric code
// first and an alphabetic unit ten tokens from the end.
func larItemLine(line string) (model.DraftLine, bool) {
	tokens := strings.Fields(line)
	if len(tokens) < 12 || !larDigits.MatchString(tokens[0]) {
		return model.DraftLine{}, false
	}
	n := len(tokens)
	unit := tokens[n-10]
	if !larUnit.MatchString(unit) {
		return model.DraftLine{}, false
	}
	var desc string
	if n > 13 {
		desc = strings.TrimRight(strings.TrimSpace(strings.Join(tokens[1:n-12], " ")), ".")
	}
	return model.DraftLine{
		ItemReferenceNo: tokens[0],
		Description:     desc,
		Quantity:        tokens[n-12],
		UnitOfMeasure:   strings.ToUpper(unit),
		UnitPrice:       tokens[n-8],
		Total:           tokens[n-4],
	}, true
}

func larDeliveryLine(line string) (qty, unit, date string, ok bool) {
	m := larDelivery.FindStringSubmatch(line)
	if m == nil {
		return "", "", "", false
	}
	return m[1], strings.ToUpper(m[2]), larNormalizeDate(m[3]), true
}

// larNormalizeDate turns D/M/Y into ISO; two-digit years below 50 are 20xx.
// Anything else is returned trimmed.
func larNormalizeDate(value string) string {
	value = strings.TrimSpace(value)
	m := larDate.FindStringSubmatch(value)
	if m == nil {
		return value
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) == 2 {
		if year < 50 {
			year += 2000
		} else {
			year += 1900
		}
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// applyTotal sets total = quantity x unit price when no total was read.
func applyTotal(l *model.DraftLine) {
	if l.Total != "" {
		return
	}
	qty, ok := larDecimal(l.Quantity)
	if !ok {
		return
	}
	price, ok := larDecimal(l.UnitPrice)
	if !ok {
		return
	}
	l.Total = brazil.FormatNumber(brazil.Round6(brazil.Mul(qty, price)))
}

// larDecimal reads a number; a comma marks pt-BR notation.
func larDecimal(s string) (float64, bool) {
	cleaned := nonNumeric.ReplaceAllString(s, "")
	if cleaned == "" {
		return 0, false
	}
	if strings.Contains(cleaned, ",") {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func afterColon(line string) string {
	if _, after, ok := strings.Cut(line, ":"); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(line)
}
