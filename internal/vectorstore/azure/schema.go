package azure

type field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Key         bool   `json:"key,omitempty"`
	Searchable  bool   `json:"searchable"`
	Filterable  bool   `json:"filterable"`
	Retrievable bool   `json:"retrievable"`
	Dimensions  int    `json:"dimensions,omitempty"`
	Profile     string `json:"vectorSearchProfile,omitempty"`
}

type indexSpec struct {
	Name         string       `json:"name"`
	Fields       []field      `json:"fields"`
	VectorSearch vectorSearch `json:"vectorSearch"`
}

type vectorSearch struct {
	Algorithms []algorithm `json:"algorithms"`
	Profiles   []profile   `json:"profiles"`
}

type algorithm struct {
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Parameters hnswParameters `json:"hnswParameters"`
}

type hnswParameters struct {
	M              int    `json:"m"`
	EfConstruction int    `json:"efConstruction"`
	EfSearch       int    `json:"efSearch"`
	Metric         string `json:"metric"`
}

type profile struct {
	Name      string `json:"name"`
	Algorithm string `json:"algorithm"`
}

func indexDefinition(name string, dims int) indexSpec {
	return indexSpec{
		Name: name,
		Fields: []field{
			{Name: "id", Type: "Edm.String", Key: true, Filterable: true, Retrievable: true},
			{Name: "content", Type: "Edm.String", Searchable: true, Retrievable: true},
			{Name: "title", Type: "Edm.String", Searchable: true, Filterable: true, Retrievable: true},
			{Name: "url", Type: "Edm.String", Filterable: true, Retrievable: true},
			{Name: "chunk_index", Type: "Edm.Int32", Filterable: true, Retrievable: true},
			{Name: "source_type", Type: "Edm.String", Filterable: true, Retrievable: true},
			{Name: "metadata", Type: "Edm.String", Searchable: true, Retrievable: true},
			{
				Name:        vectorField,
				Type:        "Collection(Edm.Single)",
				Searchable:  true,
				Retrievable: false,
				Dimensions:  dims,
				Profile:     vectorProfile,
			},
		},
		VectorSearch: vectorSearch{
			Algorithms: []algorithm{{
				Name: vectorAlgorithm,
				Kind: "hnsw",
				Parameters: hnswParameters{
					M:              4,
					EfConstruction: 400,
					EfSearch:       500,
					Metric:         "cosine",
				},
			}},
			Profiles: []profile{{Name: vectorProfile, Algorithm: vectorAlgorithm}},
		},
	}
}

type uploadRequest struct {
	Value []uploadDoc `json:"value"`
}

type uploadDoc struct {
	Action     string    `json:"@search.action"`
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	ChunkIndex int       `json:"chunk_index"`
	SourceType string    `json:"source_type"`
	Metadata   string    `json:"metadata"`
	Vector     []float32 `json:"content_vector"`
}

type uploadResponse struct {
	Value []struct {
		Key          string `json:"key"`
		Status       bool   `json:"status"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"value"`
}

type searchRequest struct {
	Search        string        `json:"search,omitempty"`
	VectorQueries []vectorQuery `json:"vectorQueries,omitempty"`
	Top           int           `json:"top"`
	Select        string        `json:"select"`
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type searchResponse struct {
	Value []struct {
		Score      float64 `json:"@search.score"`
		ID         string  `json:"id"`
		Content    string  `json:"content"`
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		ChunkIndex int     `json:"chunk_index"`
		SourceType string  `json:"source_type"`
		Metadata   string  `json:"metadata"`
	} `json:"value"`
}
