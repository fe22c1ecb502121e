package vision

const documentPrompt = `Read this photo of an identity document (passport, national ID, foreigner ID or driving licence) and return its data as JSON. Use null for anything that is not visible or does not apply.

Return ONLY valid JSON, no markdown and no extra text, with exactly these keys:
{
  "firstName": "given name(s)",
  "lastName": "first surname",
  "lastName2": "second surname, if any",
  "birthDate": "date of birth as DD/MM/YYYY",
  "gender": "M or F, null when unclear",
  "nationality": "nationality as a country name in English, e.g. Spain, Germany, France",
  "documentType": "one of passport, dni, nie, driver_licence",
  "documentNumber": "document number",
  "issueDate": "issue date as DD/MM/YYYY",
  "expirationDate": "expiry date as DD/MM/YYYY",
  "issuingCountry": "issuing country as an ISO 3166 alpha-2 code, e.g. ES",
  "address": "address if printed",
  "city": "city if printed",
  "country": "country of residence as an ISO 3166 alpha-2 code",
  "supportNumber": "support number, Spanish DNI only, bottom right of the front"
}

Notes:
- A Spanish DNI number is 8 digits and a letter.
- A NIE is a leading X, Y or Z, 7 digits and a letter.
- Copy values exactly as printed.
- Nationality is always an English country name.`

const twoSidedPrompt = `These two photos should be the front and back of a Spanish national ID card (DNI). First decide:
1. Is the first photo a side of a Spanish DNI?
2. Is the second photo a side of a Spanish DNI?
3. Are both sides present, front AND back?

The FRONT shows the holder's photo, names, date of birth, sex, nationality, the DNI number (8 digits and a letter), the expiry date and the support number printed below it.
The BACK shows the full address, postcode, town, province, place of birth, parents' names and the machine readable zone.

Return ONLY valid JSON, no markdown and no extra text, with exactly these keys:
{
  "validation": {
    "isValidDni": true or false,
    "hasAnverso": true or false,
    "hasReverso": true or false,
    "errorMessage": "what is wrong, null when valid"
  },
  "firstName": "given name(s)",
  "lastName": "first surname",
  "lastName2": "second surname",
  "birthDate": "date of birth as DD/MM/YYYY",
  "gender": "M or F",
  "nationality": "Spain",
  "documentType": "dni",
  "documentNumber": "DNI number",
  "issueDate": "issue date as DD/MM/YYYY, if visible",
  "expirationDate": "expiry date as DD/MM/YYYY",
  "issuingCountry": "ES",
  "address": "street, number, floor and door",
  "zipCode": "5 digit postcode",
  "city": "town",
  "province": "province",
  "country": "ES",
  "supportNumber": "support number, e.g. ABC123456"
}

Notes:
- When the photos are not both sides of a valid Spanish DNI set isValidDni to false and explain in errorMessage, e.g. "Only the front was found, the back is missing" or "Both photos show the same side".
- Only extract data when isValidDni is true.
- The address is on the back; the support number is on the front.
- Use null for anything unreadable.`
