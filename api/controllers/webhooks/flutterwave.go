package webhooks

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/storehubhq/storehub-backend/api/responses"
	pkgerrors "github.com/storehubhq/storehub-backend/pkg/errors"
	"github.com/storehubhq/storehub-backend/pkg/flutterwave"
	"github.com/storehubhq/storehub-backend/pkg/logger"
)

const signatureHeader = "verif-hash"

type FlutterwaveWebhookService interface {
	HandleEvent(ctx context.Context, event *flutterwave.WebhookEvent) error
}

type webhookGuard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type gatewayClient interface {
	SigningSecret() string
}

// FlutterwaveWebhook handles payment notifications. The signature gates entry;
// the payload itself is only a hint and the service re-verifies with the
// gateway before touching any state.
func FlutterwaveWebhook(svc FlutterwaveWebhookService, client gatewayClient, guard webhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(signatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "webhook signature missing"))
			return
		}
		if !hmac.Equal([]byte(signature), []byte(client.SigningSecret())) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "webhook signature mismatch"))
			return
		}

		var event flutterwave.WebhookEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload"))
			return
		}

		eventID := fmt.Sprintf("%s:%d:%s", event.Event, event.Data.ID, event.Data.TxRef)
		alreadyProcessed, err := guard.Seen(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// Mark only after the event is fully applied. A failed mark just means
		// a redundant replay, which the service absorbs.
		if err := guard.Mark(ctx, eventID); err != nil && logg != nil {
			logg.Error(ctx, "mark webhook event", err)
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("flutterwave event %s processed", eventID))
		}
		responses.WriteSuccess(w, nil)
	}
}
