package sms

import (
	"context"
	"strings"
)

// Sender is the part of Dispatcher the Notifier needs.
type Sender interface {
	Send(ctx context.Context, recipient string, t Template, infills ...string) Result
}

// Notifier sends the platform's notifications. Infill 0 is always the link,
// infill 1 the recipient's name.
type Notifier struct {
	sender              Sender
	catalog             *Catalog
	agreementSignURL    string
	titleTransferredURL string
}

// NewNotifier creates a Notifier. The URLs contain %titleNumber%, which is
// replaced before the message template is resolved.
func NewNotifier(sender Sender, catalog *Catalog, agreementSignURL, titleTransferredURL string) *Notifier {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Notifier{
		sender:              sender,
		catalog:             catalog,
		agreementSignURL:    agreementSignURL,
		titleTransferredURL: titleTransferredURL,
	}
}

// TitleLink substitutes the title number into a UI URL template.
func TitleLink(urlTemplate, titleNumber string) string {
	return strings.ReplaceAll(urlTemplate, "%titleNumber%", titleNumber)
}

// YotiSignRequest asks the recipient to verify their identity.
func (n *Notifier) YotiSignRequest(ctx context.Context, phone, name, link string) Result {
	return n.sender.Send(ctx, phone, n.catalog.MustGet(TemplateYotiSignRequest), link, name)
}

// AgreementSignRequestSeller tells the seller their agreements are ready to sign.
func (n *Notifier) AgreementSignRequestSeller(ctx context.Context, phone, name, titleNumber string) Result {
	link := TitleLink(n.agreementSignURL, titleNumber)
	return n.sender.Send(ctx, phone, n.catalog.MustGet(TemplateAgreementSignRequestSeller), link, name)
}

// AgreementSignRequestBuyer tells the buyer their agreements are ready to sign.
func (n *Notifier) AgreementSignRequestBuyer(ctx context.Context, phone, name, titleNumber string) Result {
	link := TitleLink(n.agreementSignURL, titleNumber)
	return n.sender.Send(ctx, phone, n.catalog.MustGet(TemplateAgreementSignRequestBuyer), link, name)
}

// TitleTransferred tells either party the transfer is complete.
func (n *Notifier) TitleTransferred(ctx context.Context, phone, name, titleNumber string) Result {
	link := TitleLink(n.titleTransferredURL, titleNumber)
	return n.sender.Send(ctx, phone, n.catalog.MustGet(TemplateTitleTransferred), link, name)
}
