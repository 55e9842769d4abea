package analysis

import "fmt"

// analysisInstruction is the system instruction shared by every analyzer backend
const analysisInstruction = `You are the analysis engine of a travel expense tracker.
Analyze the uploaded receipt image or text and answer with a single JSON object.

Classification rules:
1. When a merchant name mixes a location ("hotel", "department store", "airport", "mall") with a
   business type ("restaurant", "cafe", "diner", "mart"), classify by the business type.
2. The category must be one of: food, lodging, transport, shopping, sightseeing, other.
3. Estimate the latitude and longitude of the place from the merchant name and address.
4. If the receipt shows a time, extract it in 24-hour HH:mm format. Otherwise use 12:00.`

// analysisPrompt describes the expected response shape
const analysisPrompt = `Extract the expense from this receipt and return ONLY valid JSON in this exact format:
{
  "merchant_name": "Store name",
  "category": "food",
  "amount": 0,
  "currency": "JPY",
  "date": "YYYY-MM-DD",
  "time": "HH:mm",
  "address": "Street address or null",
  "latitude": 0.0,
  "longitude": 0.0,
  "reasoning": "Short reason for the chosen category"
}

Important:
- amount is the final total as a number, without currency symbols or separators
- currency is an ISO 4217 code such as JPY, KRW or USD
- always include latitude and longitude
- do not include any text before or after the JSON
- do not use markdown code blocks`

func geocodePrompt(query string) string {
	return fmt.Sprintf(`You are a geocoding assistant. Return the latitude and longitude for: %q.
If the location is ambiguous, choose the most likely popular tourist destination or city center matching the query.
Also return a standardized address string.

Return ONLY valid JSON in this exact format:
{"latitude": 0.0, "longitude": 0.0, "standardized_address": "Address"}

If the place cannot be found, return null.`, query)
}
