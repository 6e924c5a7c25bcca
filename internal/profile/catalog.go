package profile

type Choice struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

type Catalog struct {
	Grades    []Choice `json:"grades"`
	Semesters []Choice `json:"semesters"`
	Subjects  []Choice `json:"subjects"`
	Genders   []Choice `json:"genders"`
}

var defaultCatalog = Catalog{
	Grades: []Choice{
		{Code: "primary-2", Label: "الثاني الإبتدائي"},
		{Code: "primary-3", Label: "الثالث الإبتدائي"},
		{Code: "primary-4", Label: "الرابع الإبتدائي"},
		{Code: "primary-5", Label: "الخامس الإبتدائي"},
		{Code: "primary-6", Label: "السادس الإبتدائي"},
		{Code: "prep-1", Label: "الأول الإعدادي"},
		{Code: "prep-2", Label: "الثاني الإعدادي"},
		{Code: "prep-3", Label: "الثالث الإعدادي"},
	},
	Semesters: []Choice{
		{Code: "semester-1", Label: "الترم الأول"},
		{Code: "semester-2", Label: "الترم الثاني"},
	},
	Subjects: []Choice{
		{Code: "arabic", Label: "اللغة العربية"},
		{Code: "math", Label: "الرياضيات"},
		{Code: "science", Label: "العلوم"},
		{Code: "social-studies", Label: "الدراسات الاجتماعية"},
		{Code: "english", Label: "اللغة الإنجليزية"},
	},
	Genders: []Choice{
		{Code: "girl", Label: "بنت"},
		{Code: "boy", Label: "ولد"},
	},
}

// DefaultCatalog returns a copy of the onboarding options.
func DefaultCatalog() Catalog {
	clone := func(in []Choice) []Choice { return append([]Choice(nil), in...) }
	return Catalog{
		Grades:    clone(defaultCatalog.Grades),
		Semesters: clone(defaultCatalog.Semesters),
		Subjects:  clone(defaultCatalog.Subjects),
		Genders:   clone(defaultCatalog.Genders),
	}
}

func contains(choices []Choice, code string) bool {
	for _, c := range choices {
		if c.Code == code {
			return true
		}
	}
	return false
}

func (c Catalog) HasGrade(code string) bool    { return contains(c.Grades, code) }
func (c Catalog) HasSemester(code string) bool { return contains(c.Semesters, code) }
func (c Catalog) HasSubject(code string) bool  { return contains(c.Subjects, code) }
