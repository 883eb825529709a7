// Package tally provides a transaction categorization engine that embeds
// transaction text into vectors and classifies against per-category
// prototype embeddings.
//
// Quick start:
//
//	tl, err := tally.New(tally.WithModelDir("models/"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tl.Close()
//
//	result, _ := tl.Classify("STARBUCKS STORE #4721")
//	fmt.Println(result.PredictedCategory) // Food & Dining
//
// The Tally instance is safe for concurrent use. Create once, reuse across
// requests.
package tally
