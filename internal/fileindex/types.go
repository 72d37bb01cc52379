package fileindex

// createStoreRequest creates a file-search store.
type createStoreRequest struct {
	DisplayName string `json:"displayName"`
}

// storeResource is the provider's store object. Name is the full resource
// name ("fileSearchStores/..."), used as the store id everywhere else.
type storeResource struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

// uploadMetadata is the JSON part of a multipart blob upload.
type uploadMetadata struct {
	File fileMetadata `json:"file"`
}

type fileMetadata struct {
	DisplayName string `json:"displayName"`
}

// uploadResponse wraps the created file resource.
type uploadResponse struct {
	File fileResource `json:"file"`
}

// fileResource is the provider's blob object. Name ("files/...") is the blob
// id used for import and deletion.
type fileResource struct {
	Name     string `json:"name"`
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// importRequest attaches an uploaded blob to a store.
type importRequest struct {
	FileName string `json:"fileName"`
}

// operation is the provider's long-running operation envelope. Import is
// eventually consistent; callers poll until Done.
type operation struct {
	Name  string          `json:"name"`
	Done  bool            `json:"done"`
	Error *operationError `json:"error,omitempty"`
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// generateRequest is a grounded-retrieval call: a single user message plus
// the file-search tool scoped to a list of stores.
type generateRequest struct {
	Contents []content `json:"contents"`
	Tools    []tool    `json:"tools"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type tool struct {
	FileSearch *fileSearchTool `json:"fileSearch,omitempty"`
}

type fileSearchTool struct {
	FileSearchStoreNames []string `json:"fileSearchStoreNames"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content           content            `json:"content"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
}

type groundingMetadata struct {
	GroundingChunks []groundingChunk `json:"groundingChunks"`
}

type groundingChunk struct {
	RetrievedContext *retrievedContext `json:"retrievedContext,omitempty"`
}

type retrievedContext struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
	Text  string `json:"text"`
}

// Attribution is one piece of provider-returned evidence linking grounded
// text back to its source document.
type Attribution struct {
	Title   string
	URI     string
	Snippet string
}

// Grounding is the result of a grounded search across stores: free text plus
// the attribution list backing it.
type Grounding struct {
	Text         string
	Attributions []Attribution
}
