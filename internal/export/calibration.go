package export

// calibrationPhrases are canonical finance-domain inputs for static
// quantization. Each phrase is fed through the encoder calibrationRepeats
// times so the observed activation range reflects steady-state inference,
// not a single lucky pass.
var calibrationPhrases = []string{
	"starbucks coffee purchase",
	"uber ride downtown",
	"amazon online shopping",
	"whole foods grocery store",
	"shell gas station fuel",
	"netflix monthly subscription",
	"chipotle mexican restaurant",
	"target household shopping",
	"united airlines flight booking",
	"marriott hotel reservation",
	"cvs pharmacy prescription",
	"comcast internet bill payment",
	"payroll direct deposit",
	"venmo transfer to friend",
	"spotify premium music",
	"home depot hardware store",
	"24 hour fitness membership",
	"doordash food delivery",
	"verizon wireless phone bill",
	"trader joes weekly groceries",
}

const (
	calibrationRepeats   = 10
	calibrationBatchSize = 32
)

// encoder is the slice of the embedder the calibration pass needs: raw
// mean-pooled activations, pre-head and pre-normalization.
type encoder interface {
	EncodeBatch(texts []string) ([][]float32, error)
}

// collectActivations runs the calibration corpus through the encoder and
// returns every observed activation vector.
func collectActivations(enc encoder) ([][]float32, error) {
	corpus := make([]string, 0, len(calibrationPhrases)*calibrationRepeats)
	for i := 0; i < calibrationRepeats; i++ {
		corpus = append(corpus, calibrationPhrases...)
	}

	var activations [][]float32
	for base := 0; base < len(corpus); base += calibrationBatchSize {
		end := base + calibrationBatchSize
		if end > len(corpus) {
			end = len(corpus)
		}
		batch, err := enc.EncodeBatch(corpus[base:end])
		if err != nil {
			return nil, err
		}
		activations = append(activations, batch...)
	}
	return activations, nil
}
