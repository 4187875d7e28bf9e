// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package draft

import "github.com/adhiiiii6389/email-analysis-bot/internal/models"

// KnowledgeEntry is the fixed support guidance for one category.
type KnowledgeEntry struct {
	CommonIssues []string
	Solutions    []string
}

// KnowledgeBase maps a category to its guidance.
type KnowledgeBase map[models.Category]KnowledgeEntry

// DefaultKnowledgeBase is the excerpt included in every drafting prompt.
var DefaultKnowledgeBase = KnowledgeBase{
	models.CategoryAccountSupport: {
		CommonIssues: []string{"password reset", "login problems", "account locked", "two-factor authentication"},
		Solutions: []string{
			"Use the 'Forgot password' link on the sign-in page to reset the password.",
			"Accounts unlock automatically 30 minutes after repeated failed sign-ins.",
			"Two-factor codes can be re-synced from the security settings page.",
		},
	},
	models.CategoryTechnicalIssue: {
		CommonIssues: []string{"application errors", "slow performance", "integration failures", "data not syncing"},
		Solutions: []string{
			"Clear the browser cache and retry in a private window.",
			"Check the status page for ongoing incidents.",
			"Send the exact error message, time of occurrence, and steps to reproduce.",
		},
	},
	models.CategoryBilling: {
		CommonIssues: []string{"duplicate charges", "invoice requests", "payment method updates", "refunds"},
		Solutions: []string{
			"Invoices can be downloaded from the billing section of the account.",
			"Duplicate charges are reviewed by the billing team within 2 business days.",
			"Payment methods can be updated under billing settings.",
		},
	},
	models.CategoryProductInquiry: {
		CommonIssues: []string{"pricing questions", "plan comparison", "feature availability", "upgrades"},
		Solutions: []string{
			"Plan comparison and pricing are listed on the pricing page.",
			"Upgrades take effect immediately and are prorated.",
			"A product specialist can arrange a demo on request.",
		},
	},
	models.CategoryGeneral: {
		CommonIssues: []string{"general questions", "feedback"},
		Solutions: []string{
			"The help center covers most common questions.",
			"Feedback is shared with the product team.",
		},
	},
}

// Lookup returns the entry for a category, falling back to general.
func (kb KnowledgeBase) Lookup(c models.Category) KnowledgeEntry {
	if e, ok := kb[c]; ok {
		return e
	}
	return kb[models.CategoryGeneral]
}

var templates = map[models.Category]string{
	models.CategoryAccountSupport: `Thank you for contacting us about your account.

We have received your request and our account team is reviewing it. In the meantime, you can reset your password at any time with the "Forgot password" link on the sign-in page. If your account is locked, it will unlock automatically 30 minutes after the last failed attempt.

We will follow up shortly with next steps.`,
	models.CategoryTechnicalIssue: `Thank you for reporting this issue.

Our technical team is investigating. To help us resolve it quickly, please reply with the exact error message, the time it occurred, and the steps that lead to it. You can also check our status page for any ongoing incidents.

We will update you as soon as we have more information.`,
	models.CategoryBilling: `Thank you for reaching out about billing.

Our billing team has received your message and will review your account. Invoices are available in the billing section of your account, and any duplicate charges are reviewed within 2 business days.

We will get back to you with a resolution shortly.`,
	models.CategoryProductInquiry: `Thank you for your interest in our product.

Plan details and pricing are available on our pricing page, and a product specialist would be happy to walk you through the options or arrange a demo.

We will be in touch shortly to answer your questions.`,
	models.CategoryGeneral: `Thank you for contacting us.

We have received your message and a member of our support team will respond shortly.`,
}

const (
	negativeOpener = "I understand your frustration and apologize for the inconvenience this has caused."
	positiveOpener = "Thank you for your positive feedback, we really appreciate it."
	signature      = "Best regards,\nCustomer Support Team"
)
