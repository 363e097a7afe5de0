package domain

import "errors"

var (
	// ErrPriceNotFound indica que ningún proveedor pudo devolver el precio o la ventana.
	// Es un valor esperado: el llamador reintenta en el siguiente ciclo.
	ErrPriceNotFound = errors.New("price not found")

	// ErrInvalidMention se devuelve cuando una mención no puede entrar a la máquina de estados.
	ErrInvalidMention = errors.New("invalid mention")

	// ErrUnsupported indica que un proveedor no ofrece la capacidad pedida.
	ErrUnsupported = errors.New("capability not supported by provider")

	// ErrEmptyPayload indica respuesta 200 sin datos utilizables.
	ErrEmptyPayload = errors.New("empty payload")

	ErrSignalNotFound = errors.New("signal not found")
	ErrSignalComplete = errors.New("signal already complete")
)
