package extract

import "regexp"

// Go regexp word boundaries are ASCII-only, so unit tokens ending in a
// non-ASCII letter use an explicit trailing delimiter instead of \b.

var (
	cnpjRe  = regexp.MustCompile(`\b(\d{2}[.\s]?\d{3}[.\s]?\d{3}[/\s]?\d{4}[-\s]?\d{2})\b`)
	ieRe    = regexp.MustCompile(`(?i)\b(?:I\.?E\.?|INSCR(?:IÇÃO)?\.?\s*ESTADUAL|IE)\s*[:\s]*(\d{2,3}[.\s]?\d{3}[.\s]?\d{3}[.\s]?\d{0,4}[-.\s]?\d{0,2})\b`)
	emailRe = regexp.MustCompile(`\b([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})\b`)
	phoneRe = regexp.MustCompile(`\b(?:\+?55\s?)?(?:\(?\d{2}\)?[\s.-]?)?\d{4,5}[-.\s]?\d{4}\b`)

	dmyRe     = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})\b`)
	ymdRe     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	writtenRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(?:de\s+)?(janeiro|fevereiro|março|marco|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro)\s+(?:de\s+)?(\d{4})\b`)

	quantityRe = regexp.MustCompile(`(?i)\b(\d+(?:[.,]\d+)?)\s*(kg|g|ton|toneladas?|un|unid(?:ade)?s?|pç|peça|pc|l|lt|litros?|ml|m|metros?|cx|caixa|saco|sc|fardo)(?:[^\p{L}\p{N}_]|$)`)

	orderNumberRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:pedido|ordem|order|po|p\.o\.|purchase\s*order)\s*(?:n[°º]?\.?|#|:)?\s*([A-Z0-9-]+)`),
		regexp.MustCompile(`(?i)(?:n[°º]?\.?\s*(?:do\s*)?pedido|order\s*(?:no?\.?|#))\s*:?\s*([A-Z0-9-]+)`),
	}

	cepRe = regexp.MustCompile(`\b(\d{5}[-.\s]?\d{3})\b`)
	ufRe  = regexp.MustCompile(`\b(AC|AL|AP|AM|BA|CE|DF|ES|GO|MA|MT|MS|MG|PA|PB|PR|PE|PI|RJ|RN|RS|RO|RR|SC|SP|SE|TO)\b`)

	paymentTermsRes = []*regexp.Regexp{
		// "Condicoes de Pagamento: 060 100,00%", "Cond. Pgto: 030"
		regexp.MustCompile(`(?i)(?:condi[cç][oõ]es?\s*(?:de\s*)?pagamento|cond\.?\s*p(?:a)?g(?:to)?\.?)\s*[:\s]*(\d{2,3})\s*(?:dias?)?\s*(?:[\d,]+%)?`),
		// "Prazo: 30 dias", "Prazo de pagamento: 60 DDL"
		regexp.MustCompile(`(?i)prazo\s*(?:de\s*pagamento)?\s*[:\s]*(\d{2,3})\s*(?:dias?|DDL|DDFF)`),
		// "30 DDL", "60 DDFF", "28 dias da data de fatura"
		regexp.MustCompile(`(?i)\b(\d{2,3})\s*(?:DDL|DDFF|dias?\s*(?:da\s*)?(?:data\s*)?(?:de\s*)?(?:fatura|emiss[aã]o|vencimento)?)`),
	}
	paymentDaysRe  = regexp.MustCompile(`(?i)dias?\s*(?:de\s*)?(?:pagamento|pgto\.?)?\s*[:\s]*(\d{1,2})[-,\s]*(?:e\s*|ou\s*)?(\d{1,2})`)
	bankTransferRe = regexp.MustCompile(`(?i)dep[oó]sito\s*banc[aá]rio\??\s*[:\s]*(SIM|N[AÃ]O)`)
)

type moneyPattern struct {
	re       *regexp.Regexp
	currency string
	ptBR     bool
}

var moneyPatterns = []moneyPattern{
	{regexp.MustCompile(`R\$\s*([\d.,]+(?:\d{2})?)`), "BRL", true},
	{regexp.MustCompile(`(?:US\$|USD)\s*([\d.,]+)`), "USD", false},
	{regexp.MustCompile(`\$\s*([\d.,]+)`), "USD", false},
	{regexp.MustCompile(`\b(\d{1,3}(?:\.\d{3})*,\d{2})\b`), "", true},
	{regexp.MustCompile(`\b(\d{1,3}(?:,\d{3})*\.\d{2})\b`), "", false},
}

var monthNumbers = map[string]int{
	"janeiro": 1, "fevereiro": 2, "março": 3, "marco": 3, "abril": 4, "maio": 5, "junho": 6,
	"julho": 7, "agosto": 8, "setembro": 9, "outubro": 10, "novembro": 11, "dezembro": 12,
}

var unitCodes = map[string]string{
	"kg": "KG", "g": "G", "ton": "TON", "tonelada": "TON", "toneladas": "TON",
	"un": "UN", "unid": "UN", "unidade": "UN", "unidades": "UN",
	"pç": "PC", "peça": "PC", "pc": "PC",
	"l": "L", "lt": "L", "litro": "L", "litros": "L", "ml": "ML",
	"m": "M", "metro": "M", "metros": "M",
	"cx": "CX", "caixa": "CX", "saco": "SC", "sc": "SC", "fardo": "FD",
}
