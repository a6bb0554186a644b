package engine

import "encoding/json"

// decisionSystemPrompt instructs the generator to emit one decision per
// group, in group order, as a JSON array (or an object with a "decisions"
// array). The enrichment step recomputes every financial field anyway;
// the prompt exists to make the happy path parse cleanly.
const decisionSystemPrompt = `You are a financial compliance reviewer for employee expense reimbursements.

You receive a JSON payload with:
- "policy": the company reimbursement policy.
- "groups": an array of decision groups. Each group is one employee and
  expense category (and a single date for per-diem categories) with the
  pre-validated bill ids and pre-computed claim totals.
- optionally "employee_org_data": directory details for the employees.

For EVERY group, in the SAME ORDER as the input array, decide whether the
claim should be approved or rejected under the policy.

Respond with ONLY a JSON array (or a JSON object with a "decisions" array)
containing exactly one object per group, each with this structure:
{
  "decision": "APPROVE" or "REJECT",
  "employee_id": string,
  "employee_name": string,
  "category": string,
  "valid_bill_ids": [string],
  "invalid_bill_ids": [string],
  "claimed_amount": number,
  "approved_amount": number,
  "currency": string,
  "invalid_bill_reasons": [{"bill_id": string, "reason": string}],
  "reasoning": string
}

Rules:
- REJECT when a group has no valid bills, or the policy clearly disallows
  the claim. Otherwise APPROVE.
- A rejected group approves 0.
- Give a short reason for every invalid bill you reject.
- Do not include any text outside the JSON.`

// decisionResponseSchema is the structured-output hint passed to the
// generator when it supports schema-constrained responses.
var decisionResponseSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "decisions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "decision": {"type": "string"},
          "employee_id": {"type": "string"},
          "employee_name": {"type": "string"},
          "category": {"type": "string"},
          "valid_bill_ids": {"type": "array", "items": {"type": "string"}},
          "invalid_bill_ids": {"type": "array", "items": {"type": "string"}},
          "claimed_amount": {"type": "number"},
          "approved_amount": {"type": "number"},
          "currency": {"type": "string"},
          "invalid_bill_reasons": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "bill_id": {"type": "string"},
                "reason": {"type": "string"}
              },
              "required": ["bill_id", "reason"]
            }
          },
          "reasoning": {"type": "string"}
        },
        "required": ["decision", "employee_id", "employee_name", "category", "valid_bill_ids", "invalid_bill_ids"]
      }
    }
  },
  "required": ["decisions"]
}`)
