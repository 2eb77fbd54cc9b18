package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
)

type TaskType string

const (
	TaskTextImage             TaskType = "TEXT_IMAGE"
	TaskColorGuidedGeneration TaskType = "COLOR_GUIDED_GENERATION"
	TaskImageGuidedGeneration TaskType = "IMAGE_GUIDED_GENERATION"
	TaskImageVariation        TaskType = "IMAGE_VARIATION"
	TaskOutPainting           TaskType = "OUTPAINTING"
	TaskBackgroundRemoval     TaskType = "BACKGROUND_REMOVAL"
)

type Quality string

const (
	QualityStandard Quality = "standard"
	QualityPremium  Quality = "premium"
)

type ControlMode string

const (
	ControlCannyEdge    ControlMode = "CANNY_EDGE"
	ControlSegmentation ControlMode = "SEGMENTATION"
)

type OutPaintingMode string

const (
	OutPaintingDefault OutPaintingMode = "DEFAULT"
	OutPaintingPrecise OutPaintingMode = "PRECISE"
)

// TaskParams is the task-specific parameter block of a Request. The set of
// implementations is closed; each one carries the parameters of exactly one
// task type.
type TaskParams interface {
	TaskType() TaskType
	wireTaskType() TaskType
}

type TextImageParams struct {
	Text         string `json:"text"`
	NegativeText string `json:"negativeText,omitempty"`
}

// ImageGuidedParams conditions a text-to-image generation on a reference
// layout. The model receives it as a TEXT_IMAGE task.
type ImageGuidedParams struct {
	Text            string      `json:"text"`
	NegativeText    string      `json:"negativeText,omitempty"`
	ConditionImage  string      `json:"conditionImage"`
	ControlMode     ControlMode `json:"controlMode,omitempty"`
	ControlStrength *float64    `json:"controlStrength,omitempty"`
}

type ColorGuidedParams struct {
	Text           string   `json:"text"`
	NegativeText   string   `json:"negativeText,omitempty"`
	Colors         []string `json:"colors,omitempty"`
	ReferenceImage string   `json:"referenceImage,omitempty"`
}

type ImageVariationParams struct {
	Images             []string `json:"images,omitempty"`
	Text               string   `json:"text,omitempty"`
	NegativeText       string   `json:"negativeText,omitempty"`
	SimilarityStrength *float64 `json:"similarityStrength,omitempty"`
}

type OutPaintingParams struct {
	Image           string          `json:"image"`
	Text            string          `json:"text"`
	NegativeText    string          `json:"negativeText,omitempty"`
	MaskPrompt      string          `json:"maskPrompt,omitempty"`
	MaskImage       string          `json:"maskImage,omitempty"`
	OutPaintingMode OutPaintingMode `json:"outPaintingMode,omitempty"`
}

type BackgroundRemovalParams struct {
	Image string `json:"image"`
}

func (TextImageParams) TaskType() TaskType         { return TaskTextImage }
func (ImageGuidedParams) TaskType() TaskType       { return TaskImageGuidedGeneration }
func (ColorGuidedParams) TaskType() TaskType       { return TaskColorGuidedGeneration }
func (ImageVariationParams) TaskType() TaskType    { return TaskImageVariation }
func (OutPaintingParams) TaskType() TaskType       { return TaskOutPainting }
func (BackgroundRemovalParams) TaskType() TaskType { return TaskBackgroundRemoval }

func (TextImageParams) wireTaskType() TaskType         { return TaskTextImage }
func (ImageGuidedParams) wireTaskType() TaskType       { return TaskTextImage }
func (ColorGuidedParams) wireTaskType() TaskType       { return TaskColorGuidedGeneration }
func (ImageVariationParams) wireTaskType() TaskType    { return TaskImageVariation }
func (OutPaintingParams) wireTaskType() TaskType       { return TaskOutPainting }
func (BackgroundRemovalParams) wireTaskType() TaskType { return TaskBackgroundRemoval }

// ImageGenerationConfig holds the knobs shared by every task type. A nil
// field is left out of the request; any value that is set, zero included, is
// forwarded as given and the service is the authority on its bounds.
type ImageGenerationConfig struct {
	NumberOfImages *int     `json:"numberOfImages,omitempty"`
	Quality        Quality  `json:"quality,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
	CfgScale       *float64 `json:"cfgScale,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
}

type Request struct {
	Params TaskParams
	Config *ImageGenerationConfig
}

var errNoParams = errors.New("request has no task parameters")

// TaskType reports the domain task type, or the empty string when the
// request carries no parameters.
func (r Request) TaskType() TaskType {
	if r.Params == nil {
		return ""
	}
	return r.Params.TaskType()
}

// Prompt returns the text prompt of the request, if its task has one.
func (r Request) Prompt() string {
	switch p := r.Params.(type) {
	case TextImageParams:
		return p.Text
	case ImageGuidedParams:
		return p.Text
	case ColorGuidedParams:
		return p.Text
	case ImageVariationParams:
		return p.Text
	case OutPaintingParams:
		return p.Text
	}
	return ""
}

// Validate checks only what the wire format needs to tell variants apart.
func (r Request) Validate() error {
	switch p := r.Params.(type) {
	case nil:
		return errNoParams
	case ImageGuidedParams:
		if p.ConditionImage == "" {
			return errors.New("image guided generation requires a condition image")
		}
	}
	return nil
}

// expectedImages is the image count the request asks for, or -1 when it
// leaves the count to the service.
func (r Request) expectedImages() int {
	if r.Config == nil || r.Config.NumberOfImages == nil {
		return -1
	}
	return *r.Config.NumberOfImages
}

// textToImageParams is the shared wire shape of TEXT_IMAGE and image guided
// generation.
type textToImageParams struct {
	Text            string      `json:"text"`
	NegativeText    string      `json:"negativeText,omitempty"`
	ConditionImage  string      `json:"conditionImage,omitempty"`
	ControlMode     ControlMode `json:"controlMode,omitempty"`
	ControlStrength *float64    `json:"controlStrength,omitempty"`
}

type wireRequest struct {
	TaskType                    TaskType                 `json:"taskType"`
	TextToImageParams           *textToImageParams       `json:"textToImageParams,omitempty"`
	ColorGuidedGenerationParams *ColorGuidedParams       `json:"colorGuidedGenerationParams,omitempty"`
	ImageVariationParams        *ImageVariationParams    `json:"imageVariationParams,omitempty"`
	OutPaintingParams           *OutPaintingParams       `json:"outPaintingParams,omitempty"`
	BackgroundRemovalParams     *BackgroundRemovalParams `json:"backgroundRemovalParams,omitempty"`
	ImageGenerationConfig       *ImageGenerationConfig   `json:"imageGenerationConfig,omitempty"`
}

func (w wireRequest) blocks() int {
	n := 0
	for _, present := range []bool{
		w.TextToImageParams != nil,
		w.ColorGuidedGenerationParams != nil,
		w.ImageVariationParams != nil,
		w.OutPaintingParams != nil,
		w.BackgroundRemovalParams != nil,
	} {
		if present {
			n++
		}
	}
	return n
}

func (r Request) MarshalJSON() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	w := wireRequest{TaskType: r.Params.wireTaskType(), ImageGenerationConfig: r.Config}
	switch p := r.Params.(type) {
	case TextImageParams:
		w.TextToImageParams = &textToImageParams{Text: p.Text, NegativeText: p.NegativeText}
	case ImageGuidedParams:
		w.TextToImageParams = &textToImageParams{
			Text:            p.Text,
			NegativeText:    p.NegativeText,
			ConditionImage:  p.ConditionImage,
			ControlMode:     p.ControlMode,
			ControlStrength: p.ControlStrength,
		}
	case ColorGuidedParams:
		w.ColorGuidedGenerationParams = &p
	case ImageVariationParams:
		w.ImageVariationParams = &p
	case OutPaintingParams:
		w.OutPaintingParams = &p
	case BackgroundRemovalParams:
		w.BackgroundRemovalParams = &p
	default:
		return nil, fmt.Errorf("unsupported task parameters %T", p)
	}
	return json.Marshal(w)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if n := w.blocks(); n != 1 {
		return fmt.Errorf("task %q: expected exactly one parameter block, found %d", w.TaskType, n)
	}

	missing := fmt.Errorf("task %q: missing matching parameter block", w.TaskType)
	var params TaskParams
	switch w.TaskType {
	case TaskTextImage, TaskImageGuidedGeneration:
		t := w.TextToImageParams
		if t == nil {
			return missing
		}
		if t.ConditionImage != "" || w.TaskType == TaskImageGuidedGeneration {
			params = ImageGuidedParams{
				Text:            t.Text,
				NegativeText:    t.NegativeText,
				ConditionImage:  t.ConditionImage,
				ControlMode:     t.ControlMode,
				ControlStrength: t.ControlStrength,
			}
		} else {
			params = TextImageParams{Text: t.Text, NegativeText: t.NegativeText}
		}
	case TaskColorGuidedGeneration:
		if w.ColorGuidedGenerationParams == nil {
			return missing
		}
		params = *w.ColorGuidedGenerationParams
	case TaskImageVariation:
		if w.ImageVariationParams == nil {
			return missing
		}
		params = *w.ImageVariationParams
	case TaskOutPainting:
		if w.OutPaintingParams == nil {
			return missing
		}
		params = *w.OutPaintingParams
	case TaskBackgroundRemoval:
		if w.BackgroundRemovalParams == nil {
			return missing
		}
		params = *w.BackgroundRemovalParams
	default:
		return fmt.Errorf("unknown task type %q", w.TaskType)
	}

	*r = Request{Params: params, Config: w.ImageGenerationConfig}
	return nil
}
