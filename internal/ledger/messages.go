package ledger

// User-facing notification texts.
const (
	MsgTripCreated       = "Viaggio creato con successo."
	MsgTripUpdated       = "Viaggio aggiornato."
	MsgTripDeleted       = "Viaggio eliminato."
	MsgExpenseAdded      = "Spesa aggiunta."
	MsgExpenseUpdated    = "Spesa aggiornata."
	MsgExpenseDeleted    = "Spesa eliminata."
	MsgCategoryCreated   = "Categoria creata."
	MsgCategoryUpdated   = "Categoria aggiornata."
	MsgCategoryDeleted   = "Categoria eliminata."
	MsgDefaultTripSet    = "Viaggio predefinito impostato."
	MsgRefreshed         = "Dati aggiornati con successo!"
	MsgSaveFailed        = "Errore di salvataggio. Le modifiche potrebbero non essere state salvate."
	MsgLoadFailed        = "Impossibile caricare i dati. Controlla la connessione e riprova."
	MsgProtectedCategory = "Le categorie predefinite non possono essere eliminate."
	MsgFallbackMissing   = "Impossibile trovare la categoria 'Varie' per riassegnare le spese."
	MsgInvalidInput      = "Per favore, compila tutti i campi correttamente."
)
