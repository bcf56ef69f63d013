package vision

// classificationPrompt is the strict-JSON contract sent with every page.
// The model sees this text plus the OCR transcript plus the page image.
const classificationPrompt = `You are a document classification system. Analyze the supplied document image together with the OCR transcript and identify its type.

Guidelines:
1. Visual layout: examine logos, headers, footers, stamps, and formatting patterns characteristic of each document type.
2. Textual evidence: look for strong, document-specific identifiers. For passports: "Passport", "Nationality", country-specific formatting. For identity cards: issuing-authority branding and identity numbers. For contracts: "Agreement", "Parties", "Terms and Conditions". For invoices: "Invoice Number", "Billing Address", "Total Amount". An invoice is not a receipt.
3. Prioritize definitive identifiers over generic text. Do not guess: if the evidence is insufficient, classify the document type as "unknown".
4. Extract every important piece of information from the document into named text fields with correct field names and values.
5. The reasoning is a brief 2-3 line explanation of how the document type was determined, highlighting the key visual or textual features that influenced the decision. Base the document type decision on that reasoning.

Return VALID JSON ONLY. No text outside the JSON, no markdown, no code fences.

{
  "document_type": "<Document Type>",
  "reasoning": "<brief explanation>",
  "extracted_textfields": {
    "<field_name>": "<value>"
  }
}`
