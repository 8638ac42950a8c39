package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"coronabot-fulfillment/internal/domain"
)

const contextsSegment = "/contexts/"

var (
	unmarshalOptions = protojson.UnmarshalOptions{DiscardUnknown: true}
	// EmitUnpopulated keeps lifespanCount 0 on cleared contexts.
	marshalOptions = protojson.MarshalOptions{EmitUnpopulated: true}
)

// decodeWebhookRequest parses a Dialogflow ES webhook request.
func decodeWebhookRequest(body []byte) (domain.TurnRequest, error) {
	var req dialogflowpb.WebhookRequest
	if err := unmarshalOptions.Unmarshal(body, &req); err != nil {
		return domain.TurnRequest{}, fmt.Errorf("handler: decode webhook request: %w", err)
	}
	qr := req.GetQueryResult()
	if qr == nil {
		return domain.TurnRequest{}, errors.New("handler: webhook request has no queryResult")
	}

	contexts := make([]domain.ConversationContext, 0, len(qr.GetOutputContexts()))
	for _, c := range qr.GetOutputContexts() {
		name := contextName(c.GetName())
		if name == "" {
			continue
		}
		contexts = append(contexts, domain.ConversationContext{
			Name:           name,
			RemainingTurns: int(c.GetLifespanCount()),
			Parameters:     scalarParameters(c.GetParameters()),
		})
	}

	return domain.TurnRequest{
		SessionID:  req.GetSession(),
		IntentID:   qr.GetIntent().GetDisplayName(),
		Parameters: qr.GetParameters().AsMap(),
		Contexts:   contexts,
	}, nil
}

// encodeWebhookResponse renders the turn as a Dialogflow ES webhook response.
// Each text becomes its own message and runs of suggestions are grouped into
// one quick-replies message.
func encodeWebhookResponse(session string, resp domain.TurnResponse) ([]byte, error) {
	out := &dialogflowpb.WebhookResponse{}
	var texts []string
	var replies *dialogflowpb.Intent_Message_QuickReplies

	for _, f := range resp.Fragments {
		if f.Kind != domain.FragmentSuggestion {
			replies = nil
		}
		switch f.Kind {
		case domain.FragmentText:
			texts = append(texts, f.Text)
			out.FulfillmentMessages = append(out.FulfillmentMessages, &dialogflowpb.Intent_Message{
				Message: &dialogflowpb.Intent_Message_Text_{Text: &dialogflowpb.Intent_Message_Text{Text: []string{f.Text}}},
			})
		case domain.FragmentSuggestion:
			if replies == nil {
				replies = &dialogflowpb.Intent_Message_QuickReplies{}
				out.FulfillmentMessages = append(out.FulfillmentMessages, &dialogflowpb.Intent_Message{
					Message: &dialogflowpb.Intent_Message_QuickReplies_{QuickReplies: replies},
				})
			}
			replies.QuickReplies = append(replies.QuickReplies, f.Text)
		case domain.FragmentImage:
			out.FulfillmentMessages = append(out.FulfillmentMessages, &dialogflowpb.Intent_Message{
				Message: &dialogflowpb.Intent_Message_Image_{Image: &dialogflowpb.Intent_Message_Image{ImageUri: f.ImageURL}},
			})
		case domain.FragmentCard:
			if f.Card == nil {
				continue
			}
			out.FulfillmentMessages = append(out.FulfillmentMessages, &dialogflowpb.Intent_Message{
				Message: &dialogflowpb.Intent_Message_Card_{Card: cardMessage(*f.Card)},
			})
		}
	}
	out.FulfillmentText = strings.Join(texts, "\n")

	for _, c := range resp.Contexts {
		out.OutputContexts = append(out.OutputContexts, &dialogflowpb.Context{
			Name:          session + contextsSegment + c.Name,
			LifespanCount: int32(c.RemainingTurns),
			Parameters:    stringStruct(c.Parameters),
		})
	}

	buf, err := marshalOptions.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("handler: encode webhook response: %w", err)
	}
	return buf, nil
}

func cardMessage(c domain.Card) *dialogflowpb.Intent_Message_Card {
	card := &dialogflowpb.Intent_Message_Card{
		Title:    c.Title,
		Subtitle: c.Body,
		ImageUri: c.ImageURL,
	}
	if c.ButtonText != "" {
		card.Buttons = []*dialogflowpb.Intent_Message_Card_Button{{Text: c.ButtonText, Postback: c.ButtonURL}}
	}
	return card
}

// contextName returns the short name of a context resource path.
func contextName(path string) string {
	if i := strings.LastIndex(path, contextsSegment); i >= 0 {
		return path[i+len(contextsSegment):]
	}
	return strings.TrimSpace(path)
}

// scalarParameters stringifies scalar fields and drops the rest.
func scalarParameters(s *structpb.Struct) map[string]string {
	fields := s.GetFields()
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			out[k] = kind.StringValue
		case *structpb.Value_NumberValue:
			out[k] = strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
		case *structpb.Value_BoolValue:
			out[k] = strconv.FormatBool(kind.BoolValue)
		}
	}
	return out
}

func stringStruct(params map[string]string) *structpb.Struct {
	if len(params) == 0 {
		return nil
	}
	fields := make(map[string]*structpb.Value, len(params))
	for k, v := range params {
		fields[k] = structpb.NewStringValue(v)
	}
	return &structpb.Struct{Fields: fields}
}
