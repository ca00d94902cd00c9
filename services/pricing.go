package services

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ModelPrice is the USD price per 1K tokens for a model family
type ModelPrice struct {
	Prefix string
	Input  decimal.Decimal
	Output decimal.Decimal
}

// chatPrices is matched in order, so more specific prefixes come first.
var chatPrices = []ModelPrice{
	{Prefix: "gpt-4-turbo", Input: decimal.RequireFromString("0.01"), Output: decimal.RequireFromString("0.03")},
	{Prefix: "gpt-4-1106", Input: decimal.RequireFromString("0.01"), Output: decimal.RequireFromString("0.03")},
	{Prefix: "gpt-4", Input: decimal.RequireFromString("0.03"), Output: decimal.RequireFromString("0.06")},
	{Prefix: "gpt-3.5-turbo", Input: decimal.RequireFromString("0.0005"), Output: decimal.RequireFromString("0.0015")},
}

// fallbackPrice applies to models not in the table
var fallbackPrice = ModelPrice{
	Prefix: "",
	Input:  decimal.RequireFromString("0.0005"),
	Output: decimal.RequireFromString("0.0015"),
}

// whisperPerMinute is the transcription rate in USD per audio minute
var whisperPerMinute = decimal.RequireFromString("0.006")

var thousand = decimal.NewFromInt(1000)

// PriceFor returns the price tier for a model
func PriceFor(model string) ModelPrice {
	for _, p := range chatPrices {
		if strings.HasPrefix(model, p.Prefix) {
			return p
		}
	}
	return fallbackPrice
}

// ChatCost splits the cost of a chat completion into prompt and completion
// parts. The total is their sum.
func ChatCost(model string, promptTokens, completionTokens int) (prompt, completion decimal.Decimal) {
	price := PriceFor(model)
	prompt = decimal.NewFromInt(int64(promptTokens)).Div(thousand).Mul(price.Input)
	completion = decimal.NewFromInt(int64(completionTokens)).Div(thousand).Mul(price.Output)
	return prompt, completion
}

// TranscriptionCost prices audio by duration in seconds
func TranscriptionCost(durationSeconds float64) decimal.Decimal {
	if durationSeconds <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(durationSeconds).Mul(whisperPerMinute).Div(decimal.NewFromInt(60))
}
