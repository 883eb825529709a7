package embed

// DefaultCategories is the built-in few-shot example table used when no
// caller-supplied mapping is given. Examples mirror the shape of real card
// statement text: merchant fragments plus a short description.
func DefaultCategories() map[string][]string {
	return map[string][]string{
		"Food & Dining": {
			"starbucks coffee morning latte",
			"mcdonalds burger lunch",
			"chipotle mexican grill dinner",
			"doordash restaurant delivery order",
			"local diner breakfast eggs",
		},
		"Groceries": {
			"whole foods market weekly groceries",
			"safeway supermarket produce",
			"trader joes grocery run",
			"costco wholesale bulk food",
			"kroger grocery store milk bread",
		},
		"Transportation": {
			"uber trip downtown ride",
			"shell gas station fuel",
			"lyft airport ride",
			"metro transit monthly pass",
			"chevron gasoline fill up",
		},
		"Shopping": {
			"amazon marketplace online order",
			"target household purchase",
			"best buy electronics",
			"nordstrom clothing apparel",
			"home depot hardware supplies",
		},
		"Entertainment": {
			"netflix monthly subscription",
			"amc theatres movie tickets",
			"spotify premium music",
			"steam games purchase",
			"ticketmaster concert tickets",
		},
		"Bills & Utilities": {
			"pacific gas electric utility bill",
			"comcast xfinity internet service",
			"verizon wireless phone bill",
			"city water and sewer payment",
			"state farm insurance premium",
		},
		"Health & Fitness": {
			"cvs pharmacy prescription",
			"24 hour fitness gym membership",
			"dental office copay",
			"walgreens pharmacy vitamins",
			"urgent care clinic visit",
		},
		"Travel": {
			"united airlines flight ticket",
			"marriott hotel stay",
			"airbnb reservation lodging",
			"hertz rental car",
			"delta airlines baggage fee",
		},
		"Income": {
			"payroll direct deposit salary",
			"employer payment wages",
			"freelance invoice payment received",
			"tax refund deposit",
			"interest payment earned",
		},
		"Transfer": {
			"transfer to savings account",
			"venmo payment sent",
			"zelle transfer received",
			"credit card payment thank you",
			"wire transfer outgoing",
		},
	}
}
