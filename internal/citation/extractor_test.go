package citation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lawchat-gateway/internal/models"
)

func TestExtractTolerantInput(t *testing.T) {
	for _, input := range []any{nil, 42, "", []string{"x"}} {
		res := Extract(input)
		assert.Equal(t, "", res.CleanedText)
		assert.Empty(t, res.References)
	}
}

func TestExtractItemisedBlock(t *testing.T) {
	text := "依民法第184條，加害人應負賠償責任。\n\n---\n### 參考資料\n- 《民法》第184條條文\n- 短\n- 司法院裁判書查詢系統\n"

	res := Extract(text)
	assert.Equal(t, "依民法第184條，加害人應負賠償責任。", res.CleanedText)
	assert.Equal(t, []models.Reference{
		{ID: 1, Title: "《民法》第184條條文"},
		{ID: 2, Title: "司法院裁判書查詢系統"},
	}, res.References)
}

func TestExtractLabelBlockRemovedWithoutItems(t *testing.T) {
	res := Extract("The answer.\nSources: example.com, other.org")
	assert.Equal(t, "The answer.", res.CleanedText)
	assert.Empty(t, res.References)
}

func TestExtractImplicitStatuteDeduplicated(t *testing.T) {
	text := "依《民法》第184條規定，侵權行為人應負責。再次強調《民法》第184條之適用。"

	res := Extract(text)
	assert.Equal(t, text, res.CleanedText)
	require.Len(t, res.References, 1)
	assert.Equal(t, models.Reference{ID: 1, Title: "《民法》第184條"}, res.References[0])
}

func TestExtractImplicitMixed(t *testing.T) {
	text := "參照《刑法》第277條與《消費者保護法》，詳見 https://www.law.moj.gov.tw/x 及 https://www.law.moj.gov.tw/x。"

	res := Extract(text)
	assert.Equal(t, text, res.CleanedText)
	assert.Equal(t, []models.Reference{
		{ID: 1, Title: "《刑法》第277條"},
		{ID: 2, Title: "《消費者保護法》"},
		{ID: 3, Title: "law.moj.gov.tw", URL: "https://www.law.moj.gov.tw/x"},
	}, res.References)
}

func TestExtractCapped(t *testing.T) {
	text := ""
	for i := 1; i <= 14; i++ {
		text += "見《法規" + string(rune('甲'+i)) + "》。"
	}
	res := Extract(text)
	require.Len(t, res.References, 10)
	for i, ref := range res.References {
		assert.Equal(t, i+1, ref.ID)
	}
}
