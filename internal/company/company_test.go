package company

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadIdentity_MissingFileUsesDefaults(t *testing.T) {
	id := LoadIdentity(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Empty(t, id.CNPJs)
	assert.Equal(t, DefaultNames, id.Names)
	assert.True(t, id.IsOwnName("Pedido para Oligo Basics Ind. e Com."))
	assert.False(t, id.IsOwnName("Cooperativa Agroindustrial"))
}

func TestLoadIdentity_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "my_company.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
identifiers:
  cnpjs:
    - "12.345.678/0001-90"
  names:
    - ACME QUIMICA
`), 0o600))

	id := LoadIdentity(path)
	assert.Equal(t, []string{"12345678000190"}, id.CNPJs)
	assert.True(t, id.IsOwnCNPJ("12345678000190"))
	assert.True(t, id.IsOwnCNPJ("12.345.678/0001-90"))
	assert.False(t, id.IsOwnCNPJ("98765432000110"))
	assert.True(t, id.IsOwnName("acme quimica ltda"))
	assert.False(t, id.IsOwnName(""))
}

func TestLoadIdentity_MalformedFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identifiers: [unclosed"), 0o600))

	_, err := ReadIdentity(path)
	require.Error(t, err)

	id := LoadIdentity(path)
	assert.Equal(t, DefaultNames, id.Names)
}

func TestIdentity_Nil(t *testing.T) {
	var id *Identity
	assert.False(t, id.IsOwnCNPJ("12345678000190"))
	assert.False(t, id.IsOwnName("OLIGO BASICS"))
}

func TestGuessName(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		want       string
		confidence float64
	}{
		{
			name:       "labelled razao social",
			text:       "Pedido 123\nRazão Social: ACME Indústria LTDA\nCNPJ: 12.345.678/0001-90",
			want:       "ACME Indústria LTDA",
			confidence: 0.75,
		},
		{
			name:       "labelled cliente with extra spaces",
			text:       "Cliente -   Agro   Sul  \nItem 1",
			want:       "Agro Sul",
			confidence: 0.75,
		},
		{
			name:       "uppercase header with legal suffix",
			text:       "PEDIDO\nDISTRIBUIDORA NORTE LTDA\nRua das Flores 10",
			want:       "DISTRIBUIDORA NORTE LTDA",
			confidence: 0.5,
		},
		{
			name:       "line above cnpj",
			text:       "Fornecedor xyz\nAgro Sul Comercio\nCNPJ 12.345.678/0001-90",
			want:       "Agro Sul Comercio",
			confidence: 0.4,
		},
		{
			name: "nothing found",
			text: "apenas um texto qualquer",
		},
		{
			name: "empty",
			text: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := GuessName(tt.text)
			assert.Equal(t, tt.want, g.Name)
			assert.InDelta(t, tt.confidence, g.Confidence, 1e-9)
			if tt.want != "" {
				assert.NotEmpty(t, g.Snippet)
			}
		})
	}
}

func TestGuessName_ShortLabelValueSkipped(t *testing.T) {
	g := GuessName("Cliente: AB\nComprador: Maria Souza")
	assert.Equal(t, "Maria Souza", g.Name)
}

func TestSuggestModelName(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "agro-sul-com-rcio-ltda", SuggestModelName("Agro Sul Comércio LTDA", now))
	assert.Equal(t, "custom-20240102030405", SuggestModelName("", now))
	assert.Equal(t, "custom-20240102030405", SuggestModelName("***", now))

	long := SuggestModelName("Cooperativa Agroindustrial do Oeste do Parana Unidade Sul", now)
	assert.Len(t, long, 40)
}
