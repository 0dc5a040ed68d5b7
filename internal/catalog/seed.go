// internal/catalog/seed.go
package catalog

// SeedBooks is the starter catalog loaded into an empty store.
func SeedBooks() []*Book {
	return []*Book{
		{
			ID:          "3c1ef9c2-0d0f-4a4e-9a53-8f1a4f4f6a01",
			Name:        "Giant's Bread",
			Author:      "Agatha Christie",
			Description: "A satisfying novel.",
			Price:       21.86,
			Image:       "https://upload.wikimedia.org/wikipedia/en/4/45/Giant%27s_Bread_First_Edition_Cover.jpg",
		},
		{
			ID:          "3c1ef9c2-0d0f-4a4e-9a53-8f1a4f4f6a02",
			Name:        "Appointment with Death",
			Author:      "Agatha Christie",
			Description: "Hercule Poirot finds himself in the Middle East with only one day to solve a murder.",
			Price:       19.63,
			Image:       "https://upload.wikimedia.org/wikipedia/en/c/cc/Appointment_with_Death_First_Edition_Cover_1938.jpg",
		},
		{
			ID:          "3c1ef9c2-0d0f-4a4e-9a53-8f1a4f4f6a03",
			Name:        "Beowulf: The Monsters and the Critics",
			Author:      "J.R.R Tolkein",
			Description: "The 1936 lecture that reshaped modern Beowulf studies.",
			Price:       19.95,
			Image:       "https://upload.wikimedia.org/wikipedia/en/5/51/Beowulf_The_Monsters_and_the_Critics_1936_title_page.jpg",
		},
		{
			ID:          "3c1ef9c2-0d0f-4a4e-9a53-8f1a4f4f6a04",
			Name:        "The Complete Works of William Shakespeare",
			Author:      "William Shakespeare",
			Description: "The plays, poems and sonnets in one volume.",
			Price:       39.99,
			Image:       "https://upload.wikimedia.org/wikipedia/commons/a/a2/Shakespeare_first_folio.jpg",
		},
	}
}
